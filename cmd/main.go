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
	"log"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/internal/metrics"
)

// Gateway represents the CLI application, encapsulating the root Cobra command.
type Gateway struct {
	cmd *cobra.Command
}

// gatewayInstance holds the runtime configuration and the lazily opened stores
// shared by the service commands.
type gatewayInstance struct {
	cnf     *config.Configuration
	metrics *metrics.Metrics

	mu        sync.Mutex
	worklist  *database.WorklistStore
	instances *database.InstanceStore
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs.
func preRun(app *gatewayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config: ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		m, err := metrics.New()
		if err != nil {
			return fmt.Errorf("error creating metrics: %v", err)
		}

		app.cnf = cnf
		app.metrics = m
		return nil
	}
}

// worklistStore opens the worklist database once per process.
func (app *gatewayInstance) worklistStore(ctx context.Context) (*database.WorklistStore, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.worklist == nil {
		store, err := database.OpenWorklistStore(ctx, app.cnf)
		if err != nil {
			return nil, fmt.Errorf("error opening worklist database: %v", err)
		}
		app.worklist = store
	}
	return app.worklist, nil
}

// instanceStore opens the image database and blob directory once per process.
func (app *gatewayInstance) instanceStore(ctx context.Context) (*database.InstanceStore, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.instances == nil {
		store, err := database.OpenInstanceStore(ctx, app.cnf)
		if err != nil {
			return nil, fmt.Errorf("error opening instance database: %v", err)
		}
		app.instances = store
	}
	return app.instances, nil
}

func (app *gatewayInstance) close() {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.worklist != nil {
		_ = app.worklist.Conn.Close()
	}
	if app.instances != nil {
		_ = app.instances.Conn.Close()
	}
}

// NewCLI creates the command-line interface for the gateway.
func NewCLI() *Gateway {
	var configFile string
	app := &gatewayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Screening imaging gateway",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./gateway.json", "Configuration file for the gateway")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) { app.close() }

	rootCmd.AddCommand(serveCommands(app))
	rootCmd.AddCommand(mwlCommands(app))
	rootCmd.AddCommand(pacsCommands(app))
	rootCmd.AddCommand(uploadCommands(app))
	rootCmd.AddCommand(relayCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(worklistCommands(app))
	rootCmd.AddCommand(verifyCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Gateway{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (g Gateway) executeCLI() {
	if err := g.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
