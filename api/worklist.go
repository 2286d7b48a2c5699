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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/screening-gateway/gateway/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type updateStudyUID struct {
	StudyInstanceUID string `json:"study_instance_uid"`
}

func (u updateStudyUID) validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.StudyInstanceUID, validation.Required, validation.Length(1, 64)),
	)
}

// SubmitAction accepts an action envelope over HTTP. With a queue configured
// the action is enqueued, otherwise it is handled inline.
func (a *Api) SubmitAction(c *gin.Context) {
	var action model.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, model.ActionResult{Status: model.ActionStatusError, Error: "Invalid action payload: " + err.Error()})
		return
	}

	if a.queue != nil {
		if err := a.queue.EnqueueAction(c.Request.Context(), action); err != nil {
			c.JSON(http.StatusBadRequest, model.ActionResult{Status: model.ActionStatusError, ActionID: action.ActionID, Error: err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "action_id": action.ActionID})
		return
	}

	result := a.gateway.HandleAction(c.Request.Context(), action)
	if result.Status == model.ActionStatusError {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *Api) ListWorklistItems(c *gin.Context) {
	status := model.WorklistStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(status)})
		return
	}
	limit, ok := queryInt(c, "limit", defaultPageSize, maxPageSize)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return
	}

	items, err := a.worklist.ListWorklistItems(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []model.WorklistItem{}
	}
	c.JSON(http.StatusOK, items)
}

func (a *Api) CreateWorklistItem(c *gin.Context) {
	var item model.WorklistItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	item.Normalize()
	if err := item.ValidateNew(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if _, err := a.worklist.StoreWorklistItem(c.Request.Context(), &item); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (a *Api) GetWorklistItem(c *gin.Context) {
	accession, passed := c.Params.Get("accession")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accession is required. pass it in the route /:accession"})
		return
	}

	item, err := a.worklist.GetWorklistItem(c.Request.Context(), accession)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (a *Api) UpdateStudyInstanceUID(c *gin.Context) {
	accession := c.Param("accession")

	var body updateStudyUID
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := body.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.worklist.UpdateStudyInstanceUID(c.Request.Context(), accession, body.StudyInstanceUID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accession_number": accession, "study_instance_uid": body.StudyInstanceUID})
}

func (a *Api) DeleteWorklistItem(c *gin.Context) {
	if err := a.worklist.DeleteWorklistItem(c.Request.Context(), c.Param("accession")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
