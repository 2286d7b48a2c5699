/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/screening-gateway/gateway/model"
)

const defaultRecent = 10

func (a *Api) GetInstance(c *gin.Context) {
	inst, err := a.instances.GetInstance(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// VerifyInstance recomputes the blob hash and compares it with the stored one.
func (a *Api) VerifyInstance(c *gin.Context) {
	uid := c.Param("uid")
	valid, err := a.instances.VerifyInstance(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sop_instance_uid": uid, "valid": valid})
}

func (a *Api) ListFailedUploads(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultPageSize, maxPageSize)
	if !ok {
		return
	}
	failed, err := a.instances.ListFailedUploads(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if failed == nil {
		failed = []model.StoredInstance{}
	}
	c.JSON(http.StatusOK, failed)
}

// RetryUpload puts a permanently failed upload back in the pending queue.
func (a *Api) RetryUpload(c *gin.Context) {
	uid := c.Param("uid")
	if err := a.instances.RetryUpload(c.Request.Context(), uid); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sop_instance_uid": uid, "upload_status": model.UploadPending})
}

func (a *Api) Stats(c *gin.Context) {
	recent, ok := queryInt(c, "recent", defaultRecent, maxPageSize)
	if !ok {
		return
	}
	stats, err := a.instances.Stats(c.Request.Context(), recent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
