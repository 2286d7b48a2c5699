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

// Package relay receives actions pushed through an Azure Relay hybrid
// connection. The listener keeps a control channel open; each accepted
// connection carries a single action and its result.
package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/model"
)

const (
	tokenTTL       = time.Hour
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	reconnectDelay = 5 * time.Second
)

// ErrNotConfigured is returned when the relay namespace, connection or key is missing.
var ErrNotConfigured = errors.New("relay is not configured, set AZURE_RELAY_NAMESPACE, AZURE_RELAY_HYBRID_CONNECTION and AZURE_RELAY_SHARED_ACCESS_KEY")

// Handler processes one raw action payload.
type Handler func(ctx context.Context, payload []byte) model.ActionResult

type controlMessage struct {
	Accept *struct {
		Address string `json:"address"`
		ID      string `json:"id"`
	} `json:"accept"`
}

type Listener struct {
	Namespace        string
	HybridConnection string
	KeyName          string
	Key              string

	// BaseURL overrides the wss://{namespace} endpoint.
	BaseURL        string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	handler Handler
	now     func() time.Time
}

// NewListener builds a listener from the relay configuration.
func NewListener(cfg config.RelayConfig, h Handler) (*Listener, error) {
	if cfg.Namespace == "" || cfg.HybridConnection == "" || cfg.SharedAccessKey == "" {
		return nil, ErrNotConfigured
	}
	return &Listener{
		Namespace:        cfg.Namespace,
		HybridConnection: cfg.HybridConnection,
		KeyName:          cfg.KeyName,
		Key:              cfg.SharedAccessKey,
		ReconnectDelay:   reconnectDelay,
		Dialer:           websocket.DefaultDialer,
		handler:          h,
		now:              time.Now,
	}, nil
}

// SASToken signs the hybrid connection resource with the shared access key.
func SASToken(namespace, hybridConnection, keyName, key string, now time.Time) string {
	resource := url.QueryEscape(fmt.Sprintf("http://%s/%s", namespace, hybridConnection))
	expiry := strconv.FormatInt(now.Add(tokenTTL).Unix(), 10)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(resource + "\n" + expiry))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		resource, url.QueryEscape(signature), expiry, keyName)
}

// ConnectionURL returns the listen URL with a fresh token.
func (l *Listener) ConnectionURL() string {
	base := l.BaseURL
	if base == "" {
		base = "wss://" + l.Namespace
	}
	token := SASToken(l.Namespace, l.HybridConnection, l.KeyName, l.Key, l.now())
	return fmt.Sprintf("%s/$hc/%s?sb-hc-action=listen&sb-hc-token=%s", base, l.HybridConnection, url.QueryEscape(token))
}

// Run keeps the control channel open until ctx is cancelled, reconnecting
// after a fixed delay whenever it drops.
func (l *Listener) Run(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"namespace":         l.Namespace,
		"hybrid_connection": l.HybridConnection,
	})

	operation := func() error {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("control channel closed")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).Warnf("relay connection lost, reconnecting in %s", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.NewConstantBackOff(l.ReconnectDelay), ctx), notify)
	if ctx.Err() != nil {
		logger.Info("relay listener stopped")
		return nil
	}
	return err
}

func (l *Listener) listen(ctx context.Context) error {
	conn, _, err := l.Dialer.DialContext(ctx, l.ConnectionURL(), nil)
	if err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	logrus.WithField("hybrid_connection", l.HybridConnection).Info("relay listener connected")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithError(err).Warn("ignoring undecodable relay control message")
			continue
		}
		if msg.Accept == nil || msg.Accept.Address == "" {
			logrus.Debug("ignoring relay control message without accept")
			continue
		}

		wg.Add(1)
		go func(address, id string) {
			defer wg.Done()
			if err := l.accept(ctx, address); err != nil {
				logrus.WithError(err).WithField("connection_id", id).Error("relay connection failed")
			}
		}(msg.Accept.Address, msg.Accept.ID)
	}
}

// accept dials the rendezvous address, reads one action and writes its result.
func (l *Listener) accept(ctx context.Context, address string) error {
	conn, _, err := l.Dialer.DialContext(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("dialing rendezvous: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading action: %w", err)
	}

	result := l.handler(ctx, payload)

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(result); err != nil {
		return fmt.Errorf("writing action result: %w", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}
