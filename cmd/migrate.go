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

/*
Package main provides the CLI commands for managing the migrations of the
worklist and image databases.
*/
package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/database"
)

type schemaTarget struct {
	schema database.Schema
	path   string
}

func schemaTargets(cnf *config.Configuration, only string) ([]schemaTarget, error) {
	targets := []schemaTarget{
		{schema: database.WorklistSchema, path: cnf.MWL.DBPath},
		{schema: database.InstanceSchema, path: cnf.PACS.DBPath},
	}
	if only == "" {
		return targets, nil
	}
	for _, t := range targets {
		if t.schema.Name == only {
			return []schemaTarget{t}, nil
		}
	}
	return nil, fmt.Errorf("unknown schema %q, expected %q or %q", only, database.WorklistSchema.Name, database.InstanceSchema.Name)
}

// runMigrations applies the embedded migrations of each selected schema in dir.
func runMigrations(cnf *config.Configuration, only string, dir migrate.MigrationDirection) (map[string]int, error) {
	targets, err := schemaTargets(cnf, only)
	if err != nil {
		return nil, err
	}

	applied := map[string]int{}
	for _, t := range targets {
		db, err := database.ConnectDB(t.path)
		if err != nil {
			return applied, fmt.Errorf("error connecting to %s database: %v", t.schema.Name, err)
		}
		n, err := database.Migrate(db, t.schema, dir)
		_ = db.Close()
		if err != nil {
			return applied, err
		}
		applied[t.schema.Name] = n
	}
	return applied, nil
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *gatewayInstance) *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run database migrations",
	}
	cmd.PersistentFlags().StringVar(&only, "schema", "", "limit to one schema (worklist or instances)")

	cmd.AddCommand(migrateDirectionCommand(app, &only, "up", migrate.Up, "Applied"))
	cmd.AddCommand(migrateDirectionCommand(app, &only, "down", migrate.Down, "Rolled back"))
	return cmd
}

func migrateDirectionCommand(app *gatewayInstance, only *string, use string, dir migrate.MigrationDirection, verb string) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			applied, err := runMigrations(app.cnf, *only, dir)
			for name, n := range applied {
				fmt.Printf("%s %d %s migrations!\n", verb, n, name)
			}
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
			}
		},
	}
}
