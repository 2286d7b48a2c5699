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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

// WorklistStore persists scheduled procedure records in worklist.db.
type WorklistStore struct {
	Conn *sql.DB
}

func NewWorklistStore(conn *sql.DB) *WorklistStore {
	return &WorklistStore{Conn: conn}
}

const worklistColumns = `id, accession_number, patient_id, patient_name, patient_birth_date, patient_sex,
	scheduled_date, scheduled_time, modality, study_description, procedure_code,
	study_instance_uid, mpps_instance_uid, status, source_message_id, created_at, updated_at`

// allowedPriorStatus lists, for each target status, the statuses a record may move from.
var allowedPriorStatus = map[model.WorklistStatus][]model.WorklistStatus{
	model.StatusScheduled:    {model.StatusScheduled},
	model.StatusInProgress:   {model.StatusScheduled},
	model.StatusCompleted:    {model.StatusInProgress, model.StatusCompleted},
	model.StatusDiscontinued: {model.StatusInProgress, model.StatusDiscontinued},
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorklistItem(row rowScanner) (*model.WorklistItem, error) {
	item := &model.WorklistItem{}
	var birthDate, sex, description, procedureCode, studyUID, mppsUID, sourceID sql.NullString
	var status string
	err := row.Scan(
		&item.ID, &item.AccessionNumber, &item.PatientID, &item.PatientName, &birthDate, &sex,
		&item.ScheduledDate, &item.ScheduledTime, &item.Modality, &description, &procedureCode,
		&studyUID, &mppsUID, &status, &sourceID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.PatientBirthDate = birthDate.String
	item.PatientSex = sex.String
	item.StudyDescription = description.String
	item.ProcedureCode = procedureCode.String
	item.StudyInstanceUID = studyUID.String
	item.MPPSInstanceUID = mppsUID.String
	item.Status = model.WorklistStatus(status)
	item.SourceMessageID = sourceID.String
	return item, nil
}

func scanWorklistItems(rows *sql.Rows) ([]model.WorklistItem, error) {
	defer rows.Close()

	items := []model.WorklistItem{}
	for rows.Next() {
		item, err := scanWorklistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// StoreWorklistItem inserts a new worklist item. A second item with the same
// accession number is rejected with a CONFLICT error.
func (s *WorklistStore) StoreWorklistItem(ctx context.Context, item *model.WorklistItem) (string, error) {
	if item.Status == "" {
		item.Status = model.StatusScheduled
	}

	_, err := s.Conn.ExecContext(ctx, `
		INSERT INTO worklist_items (
			accession_number, patient_id, patient_name, patient_birth_date, patient_sex,
			scheduled_date, scheduled_time, modality, study_description, procedure_code,
			study_instance_uid, status, source_message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.AccessionNumber, item.PatientID, item.PatientName, nullString(item.PatientBirthDate), nullString(item.PatientSex),
		item.ScheduledDate, item.ScheduledTime, item.Modality, nullString(item.StudyDescription), nullString(item.ProcedureCode),
		nullString(item.StudyInstanceUID), string(item.Status), nullString(item.SourceMessageID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Worklist item already exists: %s", item.AccessionNumber), err)
		}
		return "", internalError("Failed to store worklist item", err)
	}

	return item.AccessionNumber, nil
}

// FindWorklistItems returns the items with the given status that match every
// non-empty filter field, ordered by scheduled date and time.
func (s *WorklistStore) FindWorklistItems(ctx context.Context, filter model.WorklistFilter, status model.WorklistStatus) ([]model.WorklistItem, error) {
	if status == "" {
		status = model.StatusScheduled
	}

	var query strings.Builder
	query.WriteString("SELECT " + worklistColumns + " FROM worklist_items WHERE status = ?")
	args := []interface{}{string(status)}

	if filter.Modality != "" {
		query.WriteString(" AND modality = ?")
		args = append(args, filter.Modality)
	}
	if filter.ScheduledDate != "" {
		query.WriteString(" AND scheduled_date = ?")
		args = append(args, filter.ScheduledDate)
	}
	if filter.PatientID != "" {
		query.WriteString(" AND patient_id = ?")
		args = append(args, filter.PatientID)
	}
	query.WriteString(" ORDER BY scheduled_date, scheduled_time, id")

	rows, err := s.Conn.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, internalError("Failed to query worklist items", err)
	}
	items, err := scanWorklistItems(rows)
	if err != nil {
		return nil, internalError("Failed to scan worklist items", err)
	}
	return items, nil
}

// GetWorklistItem retrieves a worklist item by accession number.
func (s *WorklistStore) GetWorklistItem(ctx context.Context, accessionNumber string) (*model.WorklistItem, error) {
	row := s.Conn.QueryRowContext(ctx,
		"SELECT "+worklistColumns+" FROM worklist_items WHERE accession_number = ?", accessionNumber)
	item, err := scanWorklistItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Worklist item with accession number '%s' not found", accessionNumber), err)
		}
		return nil, internalError("Failed to retrieve worklist item", err)
	}
	return item, nil
}

// GetWorklistItemByMPPSInstanceUID retrieves the worklist item a performed
// procedure step was bound to by N-CREATE.
func (s *WorklistStore) GetWorklistItemByMPPSInstanceUID(ctx context.Context, mppsInstanceUID string) (*model.WorklistItem, error) {
	row := s.Conn.QueryRowContext(ctx,
		"SELECT "+worklistColumns+" FROM worklist_items WHERE mpps_instance_uid = ?", mppsInstanceUID)
	item, err := scanWorklistItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("No worklist item for MPPS instance '%s'", mppsInstanceUID), err)
		}
		return nil, internalError("Failed to retrieve worklist item", err)
	}
	return item, nil
}

// MPPSInstanceExists reports whether an MPPS instance UID is already bound to a worklist item.
func (s *WorklistStore) MPPSInstanceExists(ctx context.Context, mppsInstanceUID string) (bool, error) {
	var exists int
	err := s.Conn.QueryRowContext(ctx,
		"SELECT 1 FROM worklist_items WHERE mpps_instance_uid = ?", mppsInstanceUID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, internalError("Failed to check MPPS instance", err)
	}
	return true, nil
}

// UpdateStatus moves the item identified by accessionNumber to status and, when
// mppsInstanceUID is non-empty, binds it to that performed procedure step.
// The source message id of the item is returned so callers can correlate it upstream.
//
// Returns:
// - NOT_FOUND when no item has the accession number.
// - CONFLICT when the item's current status does not allow the transition,
// or the MPPS instance UID is bound to another item.
func (s *WorklistStore) UpdateStatus(ctx context.Context, accessionNumber string, status model.WorklistStatus, mppsInstanceUID string) (string, error) {
	prior, ok := allowedPriorStatus[status]
	if !ok {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid worklist status: %s", status), nil)
	}

	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return "", internalError("Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(prior)), ", ")
	args := []interface{}{string(status), nullString(mppsInstanceUID), accessionNumber}
	for _, p := range prior {
		args = append(args, string(p))
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE worklist_items
		SET status = ?, mpps_instance_uid = COALESCE(?, mpps_instance_uid), updated_at = CURRENT_TIMESTAMP
		WHERE accession_number = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("MPPS instance '%s' is bound to another worklist item", mppsInstanceUID), err)
		}
		return "", internalError("Failed to update worklist status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", internalError("Failed to read update result", err)
	}

	var current string
	var sourceID sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT status, source_message_id FROM worklist_items WHERE accession_number = ?", accessionNumber).Scan(&current, &sourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Worklist item with accession number '%s' not found", accessionNumber), err)
		}
		return "", internalError("Failed to read worklist item", err)
	}

	if rowsAffected == 0 {
		return "", apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Worklist item '%s' cannot move from %s to %s", accessionNumber, current, status), nil)
	}

	if err := tx.Commit(); err != nil {
		return "", internalError("Failed to commit status update", err)
	}
	return sourceID.String, nil
}

// GetSourceMessageID returns the id of the action that created the item, or an
// empty string when the item has none.
func (s *WorklistStore) GetSourceMessageID(ctx context.Context, accessionNumber string) (string, error) {
	var sourceID sql.NullString
	err := s.Conn.QueryRowContext(ctx,
		"SELECT source_message_id FROM worklist_items WHERE accession_number = ?", accessionNumber).Scan(&sourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Worklist item with accession number '%s' not found", accessionNumber), err)
		}
		return "", internalError("Failed to read source message id", err)
	}
	return sourceID.String, nil
}

// UpdateStudyInstanceUID records the study UID assigned to the procedure.
func (s *WorklistStore) UpdateStudyInstanceUID(ctx context.Context, accessionNumber, studyInstanceUID string) error {
	result, err := s.Conn.ExecContext(ctx, `
		UPDATE worklist_items SET study_instance_uid = ?, updated_at = CURRENT_TIMESTAMP
		WHERE accession_number = ?
	`, studyInstanceUID, accessionNumber)
	if err != nil {
		return internalError("Failed to update study instance UID", err)
	}
	return requireRow(result, fmt.Sprintf("Worklist item with accession number '%s' not found", accessionNumber))
}

// DeleteWorklistItem removes a worklist item. It is an administrative operation only.
func (s *WorklistStore) DeleteWorklistItem(ctx context.Context, accessionNumber string) error {
	result, err := s.Conn.ExecContext(ctx, "DELETE FROM worklist_items WHERE accession_number = ?", accessionNumber)
	if err != nil {
		return internalError("Failed to delete worklist item", err)
	}
	return requireRow(result, fmt.Sprintf("Worklist item with accession number '%s' not found", accessionNumber))
}

// ListWorklistItems pages through items, optionally restricted to one status.
func (s *WorklistStore) ListWorklistItems(ctx context.Context, status model.WorklistStatus, limit, offset int) ([]model.WorklistItem, error) {
	query := "SELECT " + worklistColumns + " FROM worklist_items"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY scheduled_date DESC, scheduled_time DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalError("Failed to list worklist items", err)
	}
	items, err := scanWorklistItems(rows)
	if err != nil {
		return nil, internalError("Failed to scan worklist items", err)
	}
	return items, nil
}

func requireRow(result sql.Result, notFound string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return internalError("Failed to read update result", err)
	}
	if n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, notFound, nil)
	}
	return nil
}
