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
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/model"
)

type worklistAddOptions struct {
	accession     string
	patientID     string
	patientName   string
	birthDate     string
	sex           string
	date          string
	time          string
	modality      string
	description   string
	procedureCode string
	dbPath        string
}

// item builds the worklist record, scheduling it today when no date is given.
func (o worklistAddOptions) item(now time.Time) *model.WorklistItem {
	date := o.date
	if date == "" {
		date = model.DicomDate(now)
	}
	return &model.WorklistItem{
		AccessionNumber:  o.accession,
		PatientID:        o.patientID,
		PatientName:      o.patientName,
		PatientBirthDate: o.birthDate,
		PatientSex:       o.sex,
		ScheduledDate:    date,
		ScheduledTime:    o.time,
		Modality:         o.modality,
		StudyDescription: o.description,
		ProcedureCode:    o.procedureCode,
		StudyInstanceUID: model.GenerateUID(),
		Status:           model.StatusScheduled,
	}
}

// addWorklistItem validates and stores the item described by opts and prints a summary to w.
func addWorklistItem(ctx context.Context, w io.Writer, store database.IWorklistStore, opts worklistAddOptions, now time.Time) (*model.WorklistItem, error) {
	item := opts.item(now)
	item.Normalize()
	if err := item.ValidateNew(); err != nil {
		return nil, err
	}
	if _, err := store.StoreWorklistItem(ctx, item); err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "Added worklist item: %s\n", item.AccessionNumber)
	fmt.Fprintf(w, "  Patient:   %s (%s)\n", item.PatientName, item.PatientID)
	fmt.Fprintf(w, "  Scheduled: %s at %s\n", item.ScheduledDate, item.ScheduledTime)
	fmt.Fprintf(w, "  Modality:  %s\n", item.Modality)
	fmt.Fprintf(w, "  Study UID: %s\n", item.StudyInstanceUID)
	return item, nil
}

func worklistCommands(app *gatewayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "manage worklist items",
	}
	cmd.AddCommand(worklistAddCommand(app))
	return cmd
}

func worklistAddCommand(app *gatewayInstance) *cobra.Command {
	var opts worklistAddOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "add a scheduled worklist item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				opts.dbPath = app.cnf.MWL.DBPath
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			db, err := database.ConnectDB(opts.dbPath)
			if err != nil {
				return fmt.Errorf("error connecting to database: %v", err)
			}
			defer db.Close()
			if err := database.EnsureSchema(ctx, db, database.WorklistSchema); err != nil {
				return err
			}

			_, err = addWorklistItem(ctx, cmd.OutOrStdout(), database.NewWorklistStore(db), opts, time.Now())
			if err != nil {
				return fmt.Errorf("error adding worklist item: %v", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.accession, "accession", "", "accession number (unique)")
	flags.StringVar(&opts.patientID, "patient-id", "", "patient ID")
	flags.StringVar(&opts.patientName, "patient-name", "", "patient name in FAMILY^GIVEN form")
	flags.StringVar(&opts.birthDate, "birth-date", "", "birth date (YYYYMMDD)")
	flags.StringVar(&opts.sex, "sex", "", "patient sex (M, F or O)")
	flags.StringVar(&opts.date, "date", "", "scheduled date (YYYYMMDD, default today)")
	flags.StringVar(&opts.time, "time", "090000", "scheduled time (HHMMSS)")
	flags.StringVar(&opts.modality, "modality", "MG", "modality code")
	flags.StringVar(&opts.description, "description", "", "study description")
	flags.StringVar(&opts.procedureCode, "procedure-code", "", "procedure code")
	flags.StringVar(&opts.dbPath, "db-path", "", "worklist database path (default from config)")
	for _, name := range []string{"accession", "patient-id", "patient-name", "birth-date"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
