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
package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/internal/traces"
	"github.com/screening-gateway/gateway/model"
)

// InstanceStore persists received image objects: metadata in pacs.db and the
// bytes in a content-addressed directory tree under root.
type InstanceStore struct {
	Conn *sql.DB
	root string

	// mu serialises the exists-check, blob write and insert of StoreInstance.
	mu sync.Mutex
}

// NewInstanceStore returns a store writing blobs below storageRoot, creating it if needed.
func NewInstanceStore(conn *sql.DB, storageRoot string) (*InstanceStore, error) {
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &InstanceStore{Conn: conn, root: storageRoot}, nil
}

const instanceColumns = `id, sop_instance_uid, storage_path, file_size, storage_hash, patient_id, patient_name,
	accession_number, source_aet, status, upload_status, upload_error, upload_attempt_count,
	last_upload_attempt, uploaded_at, created_at`

// ComputeStoragePath derives the relative blob path for a SOP instance UID:
// the SHA-256 of the UID fanned out over two directory levels.
func ComputeStoragePath(sopInstanceUID string) string {
	sum := sha256.Sum256([]byte(sopInstanceUID))
	h := hex.EncodeToString(sum[:])
	return path.Join(h[0:2], h[2:4], h[0:16]+".dcm")
}

// Root returns the directory blobs are stored under.
func (s *InstanceStore) Root() string {
	return s.root
}

// AbsolutePath resolves a stored relative path against the storage root.
func (s *InstanceStore) AbsolutePath(relativePath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relativePath))
}

func scanInstance(row rowScanner) (*model.StoredInstance, error) {
	inst := &model.StoredInstance{}
	var patientID, patientName, accession, uploadErr sql.NullString
	var uploadStatus string
	var lastAttempt, uploadedAt sql.NullTime
	err := row.Scan(
		&inst.ID, &inst.SOPInstanceUID, &inst.StoragePath, &inst.FileSize, &inst.StorageHash, &patientID, &patientName,
		&accession, &inst.SourceAET, &inst.Status, &uploadStatus, &uploadErr, &inst.UploadAttemptCount,
		&lastAttempt, &uploadedAt, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.PatientID = patientID.String
	inst.PatientName = patientName.String
	inst.AccessionNumber = accession.String
	inst.UploadStatus = model.UploadStatus(uploadStatus)
	inst.UploadError = uploadErr.String
	if lastAttempt.Valid {
		t := lastAttempt.Time
		inst.LastUploadAttempt = &t
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time
		inst.UploadedAt = &t
	}
	return inst, nil
}

func scanInstances(rows *sql.Rows) ([]model.StoredInstance, error) {
	defer rows.Close()

	instances := []model.StoredInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

// StoreInstance writes data to its content-addressed path and records the
// instance. It returns the absolute path of the blob. Storing a UID that is
// already present fails with CONFLICT and leaves the existing blob untouched.
func (s *InstanceStore) StoreInstance(ctx context.Context, sopInstanceUID string, data []byte, meta model.InstanceMetadata, sourceAET string) (string, error) {
	ctx, span := otel.Tracer("screening-gateway.database").Start(ctx, "Storing instance",
		trace.WithAttributes(
			attribute.String("sop_instance_uid", sopInstanceUID),
			attribute.Int("file_size", len(data)),
		))
	defer span.End()

	absPath, err := s.storeInstance(ctx, sopInstanceUID, data, meta, sourceAET)
	traces.RecordError(span, err)
	return absPath, err
}

func (s *InstanceStore) storeInstance(ctx context.Context, sopInstanceUID string, data []byte, meta model.InstanceMetadata, sourceAET string) (string, error) {
	if sopInstanceUID == "" {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "SOP instance UID is required", nil)
	}
	if sourceAET == "" {
		sourceAET = "UNKNOWN"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness is on the UID alone, whatever the row's status.
	exists, err := s.uidRecorded(ctx, sopInstanceUID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Instance already exists: %s", sopInstanceUID), nil)
	}

	relPath := ComputeStoragePath(sopInstanceUID)
	absPath := s.AbsolutePath(relPath)
	created, err := writeBlob(absPath, data)
	if err != nil {
		return "", internalError("Failed to write instance file", err)
	}

	_, err = s.Conn.ExecContext(ctx, `
		INSERT INTO stored_instances (
			sop_instance_uid, storage_path, file_size, storage_hash,
			patient_id, patient_name, accession_number, source_aet, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sopInstanceUID, relPath, len(data), model.HashBytes(data),
		nullString(meta.PatientID), nullString(meta.PatientName), nullString(meta.AccessionNumber), sourceAET,
		model.InstanceStatusStored,
	)
	if err != nil {
		if created {
			if rmErr := os.Remove(absPath); rmErr != nil {
				logrus.WithField("path", absPath).Warnf("failed to remove orphaned instance file: %v", rmErr)
			}
		}
		if isUniqueViolation(err) {
			return "", apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Instance already exists: %s", sopInstanceUID), err)
		}
		return "", internalError("Failed to store instance metadata", err)
	}

	logrus.WithFields(logrus.Fields{
		"sop_instance_uid": sopInstanceUID,
		"storage_path":     relPath,
		"file_size":        len(data),
	}).Info("stored instance")
	return absPath, nil
}

// writeBlob writes data to a temporary file next to absPath and renames it into
// place. created reports whether absPath did not exist beforehand.
func writeBlob(absPath string, data []byte) (created bool, err error) {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return false, err
	}
	_, statErr := os.Stat(absPath)
	created = errors.Is(statErr, os.ErrNotExist)

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".incoming-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Rename(tmpName, absPath); err != nil {
		return false, err
	}
	return created, nil
}

// InstanceExists reports whether a stored instance with the UID is recorded.
func (s *InstanceStore) InstanceExists(ctx context.Context, sopInstanceUID string) (bool, error) {
	var exists int
	err := s.Conn.QueryRowContext(ctx,
		"SELECT 1 FROM stored_instances WHERE sop_instance_uid = ? AND status = ?",
		sopInstanceUID, model.InstanceStatusStored).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, internalError("Failed to check instance", err)
	}
	return true, nil
}

func (s *InstanceStore) uidRecorded(ctx context.Context, sopInstanceUID string) (bool, error) {
	var exists int
	err := s.Conn.QueryRowContext(ctx,
		"SELECT 1 FROM stored_instances WHERE sop_instance_uid = ?", sopInstanceUID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, internalError("Failed to check instance", err)
	}
	return true, nil
}

// GetInstance retrieves the metadata row of a stored instance.
func (s *InstanceStore) GetInstance(ctx context.Context, sopInstanceUID string) (*model.StoredInstance, error) {
	row := s.Conn.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM stored_instances WHERE sop_instance_uid = ?", sopInstanceUID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Instance '%s' not found", sopInstanceUID), err)
		}
		return nil, internalError("Failed to retrieve instance", err)
	}
	return inst, nil
}

// VerifyInstance recomputes the SHA-256 of the blob on disk and compares it with
// the hash recorded at store time. A missing blob verifies as false.
func (s *InstanceStore) VerifyInstance(ctx context.Context, sopInstanceUID string) (bool, error) {
	inst, err := s.GetInstance(ctx, sopInstanceUID)
	if err != nil {
		return false, err
	}

	f, err := os.Open(s.AbsolutePath(inst.StoragePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, internalError("Failed to open instance file", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, internalError("Failed to read instance file", err)
	}
	return hex.EncodeToString(h.Sum(nil)) == inst.StorageHash, nil
}

// GetPendingUploads returns up to limit stored instances still waiting for
// upload and below maxAttempts attempts, oldest first.
func (s *InstanceStore) GetPendingUploads(ctx context.Context, limit, maxAttempts int) ([]model.StoredInstance, error) {
	rows, err := s.Conn.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM stored_instances
		WHERE upload_status = ? AND status = ? AND upload_attempt_count < ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(model.UploadPending), model.InstanceStatusStored, maxAttempts, limit)
	if err != nil {
		return nil, internalError("Failed to query pending uploads", err)
	}
	instances, err := scanInstances(rows)
	if err != nil {
		return nil, internalError("Failed to scan pending uploads", err)
	}
	return instances, nil
}

// MarkUploadStarted counts an upload attempt before any network call is made.
func (s *InstanceStore) MarkUploadStarted(ctx context.Context, sopInstanceUID string) error {
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE stored_instances
		SET upload_status = ?, upload_attempt_count = upload_attempt_count + 1, last_upload_attempt = CURRENT_TIMESTAMP
		WHERE sop_instance_uid = ?
	`, string(model.UploadUploading), sopInstanceUID)
	if err != nil {
		return internalError("Failed to mark upload started", err)
	}
	return requireRow(result, fmt.Sprintf("Instance '%s' not found", sopInstanceUID))
}

// MarkUploadComplete records a successful upload and clears any previous error.
func (s *InstanceStore) MarkUploadComplete(ctx context.Context, sopInstanceUID string) error {
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE stored_instances
		SET upload_status = ?, uploaded_at = CURRENT_TIMESTAMP, upload_error = NULL
		WHERE sop_instance_uid = ?
	`, string(model.UploadComplete), sopInstanceUID)
	if err != nil {
		return internalError("Failed to mark upload complete", err)
	}
	return requireRow(result, fmt.Sprintf("Instance '%s' not found", sopInstanceUID))
}

// MarkUploadFailed records a failed attempt. A permanent failure moves the
// instance to FAILED, otherwise it returns to PENDING for the next cycle.
func (s *InstanceStore) MarkUploadFailed(ctx context.Context, sopInstanceUID, errText string, permanent bool) error {
	status := model.UploadPending
	if permanent {
		status = model.UploadFailed
	}
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE stored_instances SET upload_status = ?, upload_error = ?
		WHERE sop_instance_uid = ?
	`, string(status), model.TruncateError(errText), sopInstanceUID)
	if err != nil {
		return internalError("Failed to mark upload failed", err)
	}
	return requireRow(result, fmt.Sprintf("Instance '%s' not found", sopInstanceUID))
}

// InterruptedUploadError is recorded on uploads found in UPLOADING by RecoverStaleUploads.
const InterruptedUploadError = "Upload interrupted before completion"

// sqliteTimestamp is the layout CURRENT_TIMESTAMP writes.
const sqliteTimestamp = "2006-01-02 15:04:05"

// RecoverStaleUploads releases uploads left in UPLOADING by an engine that
// stopped mid-attempt. Rows last attempted before staleBefore go back to
// PENDING, or to FAILED once they have used maxAttempts attempts.
func (s *InstanceStore) RecoverStaleUploads(ctx context.Context, staleBefore time.Time, maxAttempts int) (int64, error) {
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE stored_instances
		SET upload_status = CASE WHEN upload_attempt_count >= ? THEN ? ELSE ? END,
			upload_error = ?
		WHERE upload_status = ? AND (last_upload_attempt IS NULL OR last_upload_attempt <= ?)
	`, maxAttempts, string(model.UploadFailed), string(model.UploadPending), InterruptedUploadError,
		string(model.UploadUploading), staleBefore.UTC().Format(sqliteTimestamp))
	if err != nil {
		return 0, internalError("Failed to recover interrupted uploads", err)
	}
	return result.RowsAffected()
}

// ListFailedUploads returns permanently failed uploads, most recent first.
func (s *InstanceStore) ListFailedUploads(ctx context.Context, limit int) ([]model.StoredInstance, error) {
	rows, err := s.Conn.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM stored_instances
		WHERE upload_status = ?
		ORDER BY last_upload_attempt DESC, id DESC
		LIMIT ?
	`, string(model.UploadFailed), limit)
	if err != nil {
		return nil, internalError("Failed to query failed uploads", err)
	}
	instances, err := scanInstances(rows)
	if err != nil {
		return nil, internalError("Failed to scan failed uploads", err)
	}
	return instances, nil
}

// RetryUpload puts a permanently failed instance back into the pending queue
// with a fresh attempt budget.
func (s *InstanceStore) RetryUpload(ctx context.Context, sopInstanceUID string) error {
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE stored_instances
		SET upload_status = ?, upload_attempt_count = 0, upload_error = NULL
		WHERE sop_instance_uid = ? AND upload_status = ?
	`, string(model.UploadPending), sopInstanceUID, string(model.UploadFailed))
	if err != nil {
		return internalError("Failed to reset upload", err)
	}
	return requireRow(result, fmt.Sprintf("No failed upload for instance '%s'", sopInstanceUID))
}

// Stats summarises the store: counts per upload status, total bytes and the
// most recent instances.
func (s *InstanceStore) Stats(ctx context.Context, recent int) (*model.StorageStats, error) {
	stats := &model.StorageStats{ByUploadStatus: map[model.UploadStatus]int64{}}

	rows, err := s.Conn.QueryContext(ctx, `
		SELECT upload_status, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM stored_instances
		GROUP BY upload_status
	`)
	if err != nil {
		return nil, internalError("Failed to query storage stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, size int64
		if err := rows.Scan(&status, &count, &size); err != nil {
			return nil, internalError("Failed to scan storage stats", err)
		}
		stats.ByUploadStatus[model.UploadStatus(status)] = count
		stats.TotalInstances += count
		stats.TotalBytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("Failed to scan storage stats", err)
	}

	if recent > 0 {
		recentRows, err := s.Conn.QueryContext(ctx,
			"SELECT "+instanceColumns+" FROM stored_instances ORDER BY created_at DESC, id DESC LIMIT ?", recent)
		if err != nil {
			return nil, internalError("Failed to query recent instances", err)
		}
		stats.Recent, err = scanInstances(recentRows)
		if err != nil {
			return nil, internalError("Failed to scan recent instances", err)
		}
	}

	return stats, nil
}
