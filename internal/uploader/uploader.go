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

// Package uploader sends stored image objects to the cloud API.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/internal/request"
)

// SourceMessageHeader carries the ID of the action that scheduled the study.
const SourceMessageHeader = "X-Source-Message-ID"

// maxLoggedBody bounds how much of an error response body is logged.
const maxLoggedBody = 512

type Uploader struct {
	Endpoint string
	Method   string
	APIKey   string
	Client   *http.Client
}

// New builds an Uploader from the upload configuration.
func New(cfg config.UploadConfig) *Uploader {
	verify := true
	if cfg.VerifySSL != nil {
		verify = *cfg.VerifySSL
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPut
	}
	return &Uploader{
		Endpoint: cfg.Endpoint,
		Method:   method,
		APIKey:   cfg.APIKey,
		Client:   request.NewClient(config.Seconds(cfg.Timeout), verify),
	}
}

// URL returns the target for an upload correlated to correlationID.
func (u *Uploader) URL(correlationID string) (string, error) {
	if correlationID == "" {
		return u.Endpoint, nil
	}
	return url.JoinPath(u.Endpoint, url.PathEscape(correlationID))
}

// Upload sends one object as a multipart form with a single "file" part. It
// reports false for non-success responses and transport failures; an error is
// returned only when the request cannot be built.
func (u *Uploader) Upload(ctx context.Context, sopInstanceUID string, data []byte, correlationID string) (bool, error) {
	logger := logrus.WithFields(logrus.Fields{
		"sop_instance_uid": sopInstanceUID,
		"correlation_id":   correlationID,
		"size":             len(data),
	})
	if correlationID == "" {
		logger.Warn("no correlation id, upload will be rejected by server")
	}

	target, err := u.URL(correlationID)
	if err != nil {
		return false, fmt.Errorf("building upload url: %w", err)
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", sopInstanceUID+".dcm")
	if err != nil {
		return false, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return false, fmt.Errorf("writing form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return false, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, u.Method, target, body)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set(SourceMessageHeader, correlationID)
	if u.APIKey != "" {
		req.Header.Set("Authorization", request.BearerAuth(u.APIKey))
	}

	logger.WithField("url", target).Info("uploading instance")
	resp, err := u.Client.Do(req)
	if err != nil {
		logger.Errorf("upload error: %v", err)
		return false, nil
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("failed to close response body")
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		logger.WithField("status_code", resp.StatusCode).Info("uploaded instance")
		return true, nil
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"response":    string(respBody),
		}).Error("upload failed")
		return false, nil
	}
}
