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
package model

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WorklistStatus is the procedure step status of a worklist item.
type WorklistStatus string

const (
	StatusScheduled    WorklistStatus = "SCHEDULED"
	StatusInProgress   WorklistStatus = "IN PROGRESS"
	StatusCompleted    WorklistStatus = "COMPLETED"
	StatusDiscontinued WorklistStatus = "DISCONTINUED"
)

var (
	dicomDate = regexp.MustCompile(`^\d{8}$`)
	dicomTime = regexp.MustCompile(`^\d{6}$`)
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s WorklistStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDiscontinued
}

// Valid reports whether s is one of the four known statuses.
func (s WorklistStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusDiscontinued:
		return true
	}
	return false
}

// WorklistItem is one scheduled procedure, keyed by accession number.
type WorklistItem struct {
	ID               int64          `json:"-"`
	AccessionNumber  string         `json:"accession_number"`
	PatientID        string         `json:"patient_id"`
	PatientName      string         `json:"patient_name"`
	PatientBirthDate string         `json:"patient_birth_date"`
	PatientSex       string         `json:"patient_sex,omitempty"`
	ScheduledDate    string         `json:"scheduled_date"`
	ScheduledTime    string         `json:"scheduled_time"`
	Modality         string         `json:"modality"`
	StudyDescription string         `json:"study_description,omitempty"`
	ProcedureCode    string         `json:"procedure_code,omitempty"`
	StudyInstanceUID string         `json:"study_instance_uid,omitempty"`
	MPPSInstanceUID  string         `json:"mpps_instance_uid,omitempty"`
	Status           WorklistStatus `json:"status"`
	SourceMessageID  string         `json:"source_message_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// WorklistFilter holds the three supported C-FIND match keys. Empty fields do not filter.
type WorklistFilter struct {
	Modality      string `json:"modality" form:"modality"`
	ScheduledDate string `json:"scheduled_date" form:"scheduled_date"`
	PatientID     string `json:"patient_id" form:"patient_id"`
}

// Validate checks the fields a modality needs to pick the item up from the worklist.
func (w *WorklistItem) Validate() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.AccessionNumber, validation.Required, validation.Length(1, 16)),
		validation.Field(&w.PatientID, validation.Required, validation.Length(1, 64)),
		validation.Field(&w.PatientName, validation.Required),
		validation.Field(&w.PatientBirthDate, validation.Match(dicomDate)),
		validation.Field(&w.PatientSex, validation.In("M", "F", "O")),
		validation.Field(&w.ScheduledDate, validation.Required, validation.Match(dicomDate)),
		validation.Field(&w.ScheduledTime, validation.Required, validation.Match(dicomTime)),
		validation.Field(&w.Modality, validation.Required, validation.Length(1, 16)),
		validation.Field(&w.Status, validation.By(func(value interface{}) error {
			s, _ := value.(WorklistStatus)
			if s != "" && !s.Valid() {
				return validation.NewError("validation_status", "must be a valid worklist status")
			}
			return nil
		})),
	)
}

// ValidateNew checks an item about to be created. New items start SCHEDULED
// and only N-CREATE binds a performed procedure step to them.
func (w *WorklistItem) ValidateNew() error {
	if err := w.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(w,
		validation.Field(&w.Status, validation.In(StatusScheduled).Error("must be SCHEDULED for a new item")),
		validation.Field(&w.MPPSInstanceUID, validation.Empty.Error("is only set by N-CREATE")),
	)
}

// Normalize upper-cases the coded fields and applies the initial status.
func (w *WorklistItem) Normalize() {
	w.AccessionNumber = strings.TrimSpace(w.AccessionNumber)
	w.PatientSex = strings.ToUpper(strings.TrimSpace(w.PatientSex))
	w.Modality = strings.ToUpper(strings.TrimSpace(w.Modality))
	if w.Status == "" {
		w.Status = StatusScheduled
	}
}
