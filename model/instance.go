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

import "time"

// UploadStatus tracks where a stored instance is in the outbound upload lifecycle.
type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadUploading UploadStatus = "UPLOADING"
	UploadComplete  UploadStatus = "COMPLETE"
	UploadFailed    UploadStatus = "FAILED"
)

// InstanceStatusStored is the only lifecycle status written for received instances.
const InstanceStatusStored = "STORED"

// MaxUploadErrorLength bounds the persisted upload error text.
const MaxUploadErrorLength = 500

// StoredInstance is the metadata row for one received image object.
type StoredInstance struct {
	ID                 int64        `json:"-"`
	SOPInstanceUID     string       `json:"sop_instance_uid"`
	StoragePath        string       `json:"storage_path"`
	FileSize           int64        `json:"file_size"`
	StorageHash        string       `json:"storage_hash"`
	PatientID          string       `json:"patient_id,omitempty"`
	PatientName        string       `json:"patient_name,omitempty"`
	AccessionNumber    string       `json:"accession_number,omitempty"`
	SourceAET          string       `json:"source_aet"`
	Status             string       `json:"status"`
	UploadStatus       UploadStatus `json:"upload_status"`
	UploadError        string       `json:"upload_error,omitempty"`
	UploadAttemptCount int          `json:"upload_attempt_count"`
	LastUploadAttempt  *time.Time   `json:"last_upload_attempt,omitempty"`
	UploadedAt         *time.Time   `json:"uploaded_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// InstanceMetadata is the subset of dataset attributes persisted next to the blob.
type InstanceMetadata struct {
	PatientID       string
	PatientName     string
	AccessionNumber string
}

// StorageStats summarises the image store for operators.
type StorageStats struct {
	TotalInstances int64                  `json:"total_instances"`
	TotalBytes     int64                  `json:"total_bytes"`
	ByUploadStatus map[UploadStatus]int64 `json:"by_upload_status"`
	Recent         []StoredInstance       `json:"recent"`
}

// TruncateError cuts msg down to the persisted error length.
func TruncateError(msg string) string {
	if len(msg) <= MaxUploadErrorLength {
		return msg
	}
	return msg[:MaxUploadErrorLength]
}
