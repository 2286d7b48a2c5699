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
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), SecretKeyAuth(secret))
	r.GET("/stats", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func TestSecretKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		status int
	}{
		{name: "valid key", secret: "s3cret", header: "s3cret", status: http.StatusOK},
		{name: "missing key", secret: "s3cret", header: "", status: http.StatusUnauthorized},
		{name: "wrong key", secret: "s3cret", header: "guess", status: http.StatusUnauthorized},
		{name: "not configured", secret: "", header: "anything", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.header != "" {
				req.Header.Set(SecretKeyHeader, tt.header)
			}
			resp := httptest.NewRecorder()
			newRouter(tt.secret).ServeHTTP(resp, req)
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}
