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
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gateway "github.com/screening-gateway/gateway"
	"github.com/screening-gateway/gateway/api"
	"github.com/screening-gateway/gateway/config"
	redis_db "github.com/screening-gateway/gateway/internal/redis-db"
	"github.com/screening-gateway/gateway/internal/relay"
	"github.com/screening-gateway/gateway/internal/traces"
)

const shutdownTimeout = 10 * time.Second

func initializeRouter(ctx context.Context, app *gatewayInstance) (http.Handler, func(), error) {
	g, err := newGateway(ctx, app, true)
	if err != nil {
		return nil, nil, err
	}
	worklist, _ := app.worklistStore(ctx)
	instances, _ := app.instanceStore(ctx)

	opts := []api.Option{api.WithInstanceStore(instances), api.WithMetrics(app.metrics)}
	cleanup := func() {}
	q, err := gateway.NewQueue(app.cnf)
	switch {
	case err == nil:
		opts = append(opts, api.WithQueue(q))
		cleanup = func() { _ = q.Close() }
	case errors.Is(err, redis_db.ErrNotConfigured):
		logrus.Info("redis not configured, actions submitted over http are handled inline")
	default:
		return nil, nil, fmt.Errorf("error connecting to the action queue: %v", err)
	}

	return api.NewAPI(app.cnf, g, worklist, opts...).Router(), cleanup, nil
}

func initializeTracing(ctx context.Context, cnf *config.Configuration) (func(context.Context) error, error) {
	shutdown, err := traces.SetupOTelSDK(ctx, cnf.ProjectName, cnf.Tracing.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// flushTraces exports spans still buffered when a command exits.
func flushTraces(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logrus.Warnf("failed to flush traces: %v", err)
	}
}

// runServer serves the admin API until ctx is cancelled.
func runServer(ctx context.Context, app *gatewayInstance) error {
	router, cleanup, err := initializeRouter(ctx, app)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              ":" + app.cnf.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting admin API on http://localhost:%s", app.cnf.Server.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

/*
serverCommands returns the Cobra command responsible for starting the admin API.
*/
func serverCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("server", "start the admin API", app, runServer)
}

// optionalService reports whether a service failed only because it is not
// configured, so that serve can run without it.
func optionalService(name string, err error) error {
	if errors.Is(err, relay.ErrNotConfigured) || errors.Is(err, redis_db.ErrNotConfigured) {
		logrus.WithField("service", name).Warnf("service disabled: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// serveCommands runs every gateway service in one process. The first service
// to fail stops the rest.
func serveCommands(app *gatewayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start all gateway services",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signalContext()
			defer stop()

			shutdown, err := initializeTracing(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer flushTraces(shutdown)

			// Open both stores before the services start so that migrations run once.
			if _, err := app.worklistStore(ctx); err != nil {
				log.Fatal(err)
			}
			if _, err := app.instanceStore(ctx); err != nil {
				log.Fatal(err)
			}

			group, gctx := errgroup.WithContext(ctx)
			services := map[string]func(context.Context, *gatewayInstance) error{
				"upload": runUpload,
				"relay":  runRelay,
				"worker": runWorker,
				"server": runServer,
			}
			if app.cnf.Dimse.Transport != "" {
				services["mwl"] = runMWL
				services["pacs"] = runPACS
			} else {
				logrus.Warn("no DIMSE transport configured, worklist and image store listeners are disabled")
			}

			for name, run := range services {
				group.Go(func() error {
					return optionalService(name, run(gctx, app))
				})
			}

			if err := group.Wait(); err != nil {
				log.Fatal(err)
			}
			logrus.Info("gateway stopped")
		},
	}
}
