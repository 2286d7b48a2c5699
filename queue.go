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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/screening-gateway/gateway/config"
	redis_db "github.com/screening-gateway/gateway/internal/redis-db"
	"github.com/screening-gateway/gateway/internal/traces"
	"github.com/screening-gateway/gateway/model"
)

// TypeAction is the task type carrying one action envelope.
const TypeAction = "action:process"

// maxActionRetries bounds redelivery of an action whose handler failed.
const maxActionRetries = 5

// Queue is the pull transport for actions. Producers enqueue envelopes that a
// worker later hands to HandleAction.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
}

// NewQueue connects to the Redis configured for the command queue.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.CommandsQueue,
	}, nil
}

// Name returns the asynq queue actions are enqueued on.
func (q *Queue) Name() string {
	return q.name
}

// EnqueueAction puts an action envelope on the queue. The action ID is used as
// the task ID, so a redelivered command is only queued once.
func (q *Queue) EnqueueAction(ctx context.Context, action model.Action) error {
	if action.ActionID == "" {
		return errors.New("Missing action_id")
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeAction, payload)
	info, err := q.Client.EnqueueContext(ctx, task,
		asynq.Queue(q.name),
		asynq.TaskID(action.ActionID),
		asynq.MaxRetry(maxActionRetries),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("action_id", action.ActionID).Info("action already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueueing action %s: %w", action.ActionID, err)
	}
	logrus.WithFields(logrus.Fields{
		"action_id": action.ActionID,
		"queue":     info.Queue,
	}).Info("action enqueued")
	return nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// HandleActionTask is the asynq handler for TypeAction. Only failures that a
// later delivery could get past are returned for retry; the rest, like an
// undecodable payload, are archived with SkipRetry.
func (g *Gateway) HandleActionTask(ctx context.Context, t *asynq.Task) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Process action from queue")
	defer func() {
		traces.RecordError(span, err)
		span.End()
	}()

	var action model.Action
	if err := json.Unmarshal(t.Payload(), &action); err != nil {
		logrus.Errorf("dropping undecodable action task: %v", err)
		g.metrics.ObserveAction("", model.ActionStatusError)
		return fmt.Errorf("Invalid action payload: %v: %w", err, asynq.SkipRetry)
	}

	retry, _ := asynq.GetRetryCount(ctx)
	span.SetAttributes(
		attribute.String("action.id", action.ActionID),
		attribute.String("action.type", action.ActionType),
		attribute.Int("action.retry", retry),
	)

	result, cause := g.dispatchAction(ctx, action)
	span.SetAttributes(attribute.String("action.status", result.Status))
	if result.Status != model.ActionStatusError {
		return nil
	}

	logger := logrus.WithFields(logrus.Fields{
		"action_id": action.ActionID,
		"retry":     retry,
	})
	if !retryableAction(cause) {
		logger.Warn("action rejected, not retrying")
		return fmt.Errorf("%s: %w", result.Error, asynq.SkipRetry)
	}
	logger.Warn("action failed, pushed back for retry")
	return errors.New(result.Error)
}

// NewActionWorker builds the asynq server and mux that consume the action queue.
func NewActionWorker(conf *config.Configuration, g *Gateway) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, err
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      map[string]int{conf.Queue.CommandsQueue: 1},
		Logger:      logrus.StandardLogger(),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAction, g.HandleActionTask)
	return srv, mux, nil
}
