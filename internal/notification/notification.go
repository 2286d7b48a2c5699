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
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func errorMessage(projectName string, err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Error From %s", projectName), Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
	}}
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) error {
	conf, cerr := config.Fetch()
	if cerr != nil {
		return cerr
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	payload, perr := request.ToJsonReq(errorMessage(conf.ProjectName, err, time.Now()))
	if perr != nil {
		return perr
	}

	req, rerr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rerr != nil {
		return rerr
	}

	// Slack answers with plain "ok"; only transport errors and statuses matter.
	var response interface{}
	resp, callErr := request.Call(req, &response)
	if resp != nil && resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	if resp == nil && callErr != nil {
		return callErr
	}
	return nil
}

// NotifyError logs systemError and forwards it to Slack when a webhook is
// configured. It does not block the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		if err := SlackNotification(systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}
