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
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gateway "github.com/screening-gateway/gateway"
	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/imaging"
	redlock "github.com/screening-gateway/gateway/internal/lock"
	redis_db "github.com/screening-gateway/gateway/internal/redis-db"
	"github.com/screening-gateway/gateway/internal/relay"
	"github.com/screening-gateway/gateway/internal/uploader"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newGateway builds the protocol handlers. The instance store is only opened
// for services that receive or upload images.
func newGateway(ctx context.Context, app *gatewayInstance, withInstances bool) (*gateway.Gateway, error) {
	worklist, err := app.worklistStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []gateway.Option{
		gateway.WithMetrics(app.metrics),
		gateway.WithPipeline(imaging.NewPipelineFromConfig(app.cnf.Transform, imaging.PassthroughCodec{})),
	}
	if withInstances {
		instances, err := app.instanceStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gateway.WithInstanceStore(instances))
	}
	return gateway.NewGateway(worklist, opts...), nil
}

func runMWL(ctx context.Context, app *gatewayInstance) error {
	g, err := newGateway(ctx, app, false)
	if err != nil {
		return err
	}
	mux := dimse.NewServeMux()
	g.RegisterMWL(mux)

	srv, err := dimse.NewServer(app.cnf.Dimse.Transport, app.cnf.MWL.AETitle, app.cnf.MWL.Port, mux)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"ae_title": srv.AETitle, "port": srv.Port}).Info("starting worklist server")
	return srv.ListenAndServe(ctx)
}

func runPACS(ctx context.Context, app *gatewayInstance) error {
	g, err := newGateway(ctx, app, true)
	if err != nil {
		return err
	}
	mux := dimse.NewServeMux()
	g.RegisterPACS(mux)

	srv, err := dimse.NewServer(app.cnf.Dimse.Transport, app.cnf.PACS.AETitle, app.cnf.PACS.Port, mux)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"ae_title": srv.AETitle, "port": srv.Port}).Info("starting image store server")
	return srv.ListenAndServe(ctx)
}

// runUpload drives the upload engine. With Redis configured, only the holder
// of the upload lease processes batches.
func runUpload(ctx context.Context, app *gatewayInstance) error {
	worklist, err := app.worklistStore(ctx)
	if err != nil {
		return err
	}
	instances, err := app.instanceStore(ctx)
	if err != nil {
		return err
	}

	cfg := app.cnf.Upload
	processor := gateway.NewUploadProcessor(instances, worklist, uploader.New(cfg), cfg, app.metrics)

	var locker *redlock.Locker
	client, err := redis_db.NewRedisClient(ctx, app.cnf.Redis.Dns, app.cnf.Redis.SkipTLSVerify)
	switch {
	case err == nil:
		defer client.Close()
		locker = redlock.NewLocker(client.Client(), gateway.UploadLockKey, uuid.NewString())
	case errors.Is(err, redis_db.ErrNotConfigured):
		logrus.Info("redis not configured, upload engine runs without a lease")
	default:
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	logrus.WithFields(logrus.Fields{"endpoint": cfg.Endpoint, "method": cfg.Method}).Info("starting upload engine")
	return gateway.NewUploadListener(processor, cfg, locker).Start(ctx)
}

func runRelay(ctx context.Context, app *gatewayInstance) error {
	g, err := newGateway(ctx, app, false)
	if err != nil {
		return err
	}
	listener, err := relay.NewListener(app.cnf.Relay, g.HandleActionPayload)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"namespace":         app.cnf.Relay.Namespace,
		"hybrid_connection": app.cnf.Relay.HybridConnection,
	}).Info("starting relay listener")
	return listener.Run(ctx)
}

// serviceCommand wraps a long running service in a cobra command that stops on SIGINT or SIGTERM.
func serviceCommand(use, short string, app *gatewayInstance, run func(context.Context, *gatewayInstance) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signalContext()
			defer stop()

			shutdown, err := initializeTracing(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer flushTraces(shutdown)

			if err := run(ctx, app); err != nil {
				log.Fatalf("%s: %v", use, err)
			}
		},
	}
}

func mwlCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("mwl", "start the modality worklist and procedure step server", app, runMWL)
}

func pacsCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("pacs", "start the mammography image store server", app, runPACS)
}

func uploadCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("upload", "start the upload engine", app, runUpload)
}

func relayCommands(app *gatewayInstance) *cobra.Command {
	return serviceCommand("relay", "start the relay action listener", app, runRelay)
}
