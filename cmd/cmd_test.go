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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/model"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	cnf := config.MockDefaults()
	cnf.MWL.DBPath = filepath.Join(dir, "worklist.db")
	cnf.PACS.DBPath = filepath.Join(dir, "pacs.db")
	cnf.PACS.StoragePath = filepath.Join(dir, "storage")
	return cnf
}

func TestAddWorklistItem(t *testing.T) {
	cnf := testConfig(t)
	store, err := database.OpenWorklistStore(context.Background(), cnf)
	require.NoError(t, err)
	defer store.Conn.Close()

	opts := worklistAddOptions{
		accession:   "ACC111",
		patientID:   gofakeit.DigitN(10),
		patientName: "SMITH^JANE",
		birthDate:   "19800201",
		sex:         "f",
		time:        "090000",
		modality:    "mg",
		description: "Screening Mammography",
	}
	now := time.Date(2025, 11, 18, 8, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	item, err := addWorklistItem(context.Background(), &out, store, opts, now)
	require.NoError(t, err)
	assert.Equal(t, "20251118", item.ScheduledDate)
	assert.True(t, strings.HasPrefix(item.StudyInstanceUID, "2.25."))
	assert.Contains(t, out.String(), "Added worklist item: ACC111")

	stored, err := store.GetWorklistItem(context.Background(), "ACC111")
	require.NoError(t, err)
	assert.Equal(t, "MG", stored.Modality)
	assert.Equal(t, "F", stored.PatientSex)
	assert.Equal(t, model.StatusScheduled, stored.Status)
	assert.Equal(t, item.StudyInstanceUID, stored.StudyInstanceUID)

	_, err = addWorklistItem(context.Background(), &out, store, opts, now)
	assert.Error(t, err, "duplicate accession must be rejected")

	opts.accession = "ACC112"
	opts.date = "18-11-2025"
	_, err = addWorklistItem(context.Background(), &out, store, opts, now)
	assert.Error(t, err)
}

func TestStorageReport(t *testing.T) {
	cnf := testConfig(t)
	ctx := context.Background()
	store, err := database.OpenInstanceStore(ctx, cnf)
	require.NoError(t, err)
	defer store.Conn.Close()

	var out bytes.Buffer
	problems, err := storageReport(ctx, &out, store, 10, true)
	require.NoError(t, err)
	assert.Zero(t, problems)
	assert.Contains(t, out.String(), "No instances stored yet")

	intact := model.GenerateUID()
	_, err = store.StoreInstance(ctx, intact, []byte("intact blob"), model.InstanceMetadata{PatientID: "123"}, "MODALITY")
	require.NoError(t, err)

	tampered := model.GenerateUID()
	path, err := store.StoreInstance(ctx, tampered, []byte("original"), model.InstanceMetadata{}, "MODALITY")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	missing := model.GenerateUID()
	path, err = store.StoreInstance(ctx, missing, []byte("gone"), model.InstanceMetadata{}, "MODALITY")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	out.Reset()
	problems, err = storageReport(ctx, &out, store, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	assert.Contains(t, out.String(), "Total stored instances: 3")
	assert.Contains(t, out.String(), "Missing: ")

	out.Reset()
	problems, err = storageReport(ctx, &out, store, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2, problems)
	assert.Contains(t, out.String(), "MISMATCH")
	assert.Contains(t, out.String(), "Hash:             ok")
}

func TestRunMigrations(t *testing.T) {
	cnf := testConfig(t)

	applied, err := runMigrations(cnf, "", migrate.Up)
	require.NoError(t, err)
	assert.Positive(t, applied[database.WorklistSchema.Name])
	assert.Positive(t, applied[database.InstanceSchema.Name])

	applied, err = runMigrations(cnf, "", migrate.Up)
	require.NoError(t, err)
	assert.Zero(t, applied[database.WorklistSchema.Name])

	applied, err = runMigrations(cnf, database.InstanceSchema.Name, migrate.Down)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
	assert.Positive(t, applied[database.InstanceSchema.Name])

	_, err = runMigrations(cnf, "archive", migrate.Up)
	assert.Error(t, err)
}

func TestRedactSecrets(t *testing.T) {
	cnf := config.MockDefaults()
	cnf.Upload.APIKey = "key"
	cnf.Relay.SharedAccessKey = "sas"

	redactedCfg := redactSecrets(*cnf)
	assert.Equal(t, redacted, redactedCfg.Upload.APIKey)
	assert.Equal(t, redacted, redactedCfg.Relay.SharedAccessKey)
	assert.Empty(t, redactedCfg.Server.SecretKey)
	assert.Equal(t, "key", cnf.Upload.APIKey, "original must be untouched")
}

func TestNewCLI_Commands(t *testing.T) {
	cli := NewCLI()
	names := map[string]bool{}
	for _, c := range cli.cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "mwl", "pacs", "upload", "relay", "worker", "server", "migrate", "worklist", "verify", "config"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestTraceTasks(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var inner trace.SpanContext
	handler := traceTasks("worklist-commands")(asynq.HandlerFunc(func(ctx context.Context, _ *asynq.Task) error {
		inner = trace.SpanContextFromContext(ctx)
		return errors.New("store unavailable")
	}))

	err := handler.ProcessTask(context.Background(), asynq.NewTask("action:process", nil))
	require.EqualError(t, err, "store unavailable")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Process task from Redis queue", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID(), "handler runs inside the task span")
}

func TestInitializeTracing(t *testing.T) {
	cnf := config.MockDefaults()
	shutdown, err := initializeTracing(context.Background(), cnf)
	require.NoError(t, err)
	flushTraces(shutdown)
}
