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

package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screening-gateway/gateway/config"
)

const webhook = "https://hooks.slack.com/services/T000/B000/XXXX"

func mockWebhook(t *testing.T, url string) {
	t.Helper()
	cnf := config.MockDefaults()
	cnf.Notification.Slack.WebhookUrl = url
	config.MockConfig(cnf)
}

func TestErrorMessage(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	msg := errorMessage("Screening Gateway", errors.New("upload failed"), at)

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "Error From Screening Gateway", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*Error:*\nupload failed", msg.Blocks[1].Fields[0].Text)
	assert.Contains(t, msg.Blocks[2].Fields[0].Text, "01 Mar 24 10:30")
}

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhook(t, webhook)

	httpmock.RegisterResponder(http.MethodPost, webhook, func(req *http.Request) (*http.Response, error) {
		var msg slackMessage
		require.NoError(t, json.NewDecoder(req.Body).Decode(&msg))
		assert.Len(t, msg.Blocks, 3)
		return httpmock.NewStringResponse(http.StatusOK, `"ok"`), nil
	})

	err := SlackNotification(errors.New("permanent upload failure"))
	assert.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSlackNotification_ErrorStatus(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhook(t, webhook)

	httpmock.RegisterResponder(http.MethodPost, webhook, httpmock.NewStringResponder(http.StatusForbidden, `"invalid_token"`))

	err := SlackNotification(errors.New("boom"))
	assert.EqualError(t, err, "slack webhook returned status 403")
}

func TestSlackNotification_NoWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhook(t, "")

	assert.NoError(t, SlackNotification(errors.New("boom")))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
