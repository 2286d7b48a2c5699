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

import "encoding/json"

const (
	ActionCreateWorklistItem = "worklist.create_item"

	ActionStatusCreated = "created"
	ActionStatusError   = "error"
)

// Action is the envelope delivered by both the relay and the command queue.
type Action struct {
	ActionID   string          `json:"action_id"`
	ActionType string          `json:"action_type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ActionResult is returned to the sender of an action. It never carries a Go error.
type ActionResult struct {
	Status   string `json:"status"`
	ActionID string `json:"action_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CreateWorklistItemParams is the parameters object of a worklist.create_item action.
type CreateWorklistItemParams struct {
	WorklistItem WorklistItemPayload `json:"worklist_item"`
}

type WorklistItemPayload struct {
	AccessionNumber string `json:"accession_number"`
	Participant     struct {
		NHSNumber string `json:"nhs_number"`
		Name      string `json:"name"`
		BirthDate string `json:"birth_date"`
		Sex       string `json:"sex"`
	} `json:"participant"`
	Scheduled struct {
		Date string `json:"date"`
		Time string `json:"time"`
	} `json:"scheduled"`
	Procedure struct {
		Modality         string `json:"modality"`
		StudyDescription string `json:"study_description"`
	} `json:"procedure"`
}

// ToWorklistItem maps the nested payload groups onto a worklist row owned by actionID.
func (p WorklistItemPayload) ToWorklistItem(actionID string) *WorklistItem {
	return &WorklistItem{
		AccessionNumber:  p.AccessionNumber,
		PatientID:        p.Participant.NHSNumber,
		PatientName:      p.Participant.Name,
		PatientBirthDate: p.Participant.BirthDate,
		PatientSex:       p.Participant.Sex,
		ScheduledDate:    p.Scheduled.Date,
		ScheduledTime:    p.Scheduled.Time,
		Modality:         p.Procedure.Modality,
		StudyDescription: p.Procedure.StudyDescription,
		Status:           StatusScheduled,
		SourceMessageID:  actionID,
	}
}
