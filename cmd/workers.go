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

package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/screening-gateway/gateway"
	"github.com/screening-gateway/gateway/internal/traces"
)

// runWorker consumes the action queue until ctx is cancelled.
func runWorker(ctx context.Context, app *gatewayInstance) error {
	g, err := newGateway(ctx, app, false)
	if err != nil {
		return err
	}

	srv, mux, err := gateway.NewActionWorker(app.cnf, g)
	if err != nil {
		return fmt.Errorf("error creating action worker: %v", err)
	}
	mux.Use(traceTasks(app.cnf.Queue.CommandsQueue))
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("could not run worker: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"queue":       app.cnf.Queue.CommandsQueue,
		"concurrency": app.cnf.Queue.Concurrency,
	}).Info("action worker started")

	<-ctx.Done()
	srv.Shutdown()
	logrus.Info("action worker stopped")
	return nil
}

// traceTasks starts a span for every task taken from queue.
func traceTasks(queue string) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			ctx, span := otel.Tracer("screening-gateway.worker").Start(ctx, "Process task from Redis queue",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", queue),
					attribute.String("task.type", t.Type()),
				))
			defer span.End()

			err := next.ProcessTask(ctx, t)
			traces.RecordError(span, err)
			return err
		})
	}
}

// workerCommands defines the "worker" command that consumes queued actions.
func workerCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("worker", "start the action queue worker", app, runWorker)
}
