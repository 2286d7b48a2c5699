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
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/model"
)

// storageReport summarises the image store. problems counts missing blobs and
// hash mismatches among the listed instances.
func storageReport(ctx context.Context, w io.Writer, store database.IInstanceStore, recent int, checkHash bool) (problems int, err error) {
	stats, err := store.Stats(ctx, recent)
	if err != nil {
		return 0, err
	}

	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "%s\nImage Storage Verification\n%s\n\n", rule, rule)
	fmt.Fprintf(w, "Total stored instances: %d\n", stats.TotalInstances)

	statuses := make([]string, 0, len(stats.ByUploadStatus))
	for status := range stats.ByUploadStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", status, stats.ByUploadStatus[model.UploadStatus(status)])
	}
	fmt.Fprintln(w)

	if stats.TotalInstances == 0 {
		fmt.Fprintln(w, "No instances stored yet")
		return 0, nil
	}

	fmt.Fprintf(w, "Most recent instances (showing %d of %d):\n\n", len(stats.Recent), stats.TotalInstances)
	for i, inst := range stats.Recent {
		fmt.Fprintf(w, "%d. SOP Instance UID: %s\n", i+1, inst.SOPInstanceUID)
		fmt.Fprintf(w, "   Patient ID:       %s\n", orNA(inst.PatientID))
		fmt.Fprintf(w, "   Accession Number: %s\n", orNA(inst.AccessionNumber))
		fmt.Fprintf(w, "   Source AET:       %s\n", inst.SourceAET)
		fmt.Fprintf(w, "   File Size:        %d bytes\n", inst.FileSize)
		fmt.Fprintf(w, "   Upload:           %s (attempts %d)\n", inst.UploadStatus, inst.UploadAttemptCount)

		if _, statErr := os.Stat(store.AbsolutePath(inst.StoragePath)); statErr != nil {
			problems++
			fmt.Fprintf(w, "   File:             Missing: %s\n\n", inst.StoragePath)
			continue
		}
		fmt.Fprintf(w, "   File:             %s\n", inst.StoragePath)

		if checkHash {
			valid, err := store.VerifyInstance(ctx, inst.SOPInstanceUID)
			switch {
			case err != nil:
				problems++
				fmt.Fprintf(w, "   Hash:             error: %v\n", err)
			case !valid:
				problems++
				fmt.Fprintln(w, "   Hash:             MISMATCH")
			default:
				fmt.Fprintln(w, "   Hash:             ok")
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s\nTotal storage size: %d bytes (%.2f MB)\n%s\n", rule, stats.TotalBytes, float64(stats.TotalBytes)/1024/1024, rule)
	return problems, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func verifyCommands(app *gatewayInstance) *cobra.Command {
	var (
		recent    int
		checkHash bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "report on stored instances and their blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := app.instanceStore(ctx)
			if err != nil {
				return err
			}
			problems, err := storageReport(ctx, cmd.OutOrStdout(), store, recent, checkHash)
			if err != nil {
				return err
			}
			if problems > 0 {
				return fmt.Errorf("%d instance(s) failed verification", problems)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent instances to list")
	cmd.Flags().BoolVar(&checkHash, "check-hash", false, "recompute and compare the SHA-256 of each listed blob")
	return cmd
}
