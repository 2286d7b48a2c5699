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
	"time"

	"github.com/screening-gateway/gateway/model"
)

// IWorklistStore groups the operations on scheduled procedure records.
type IWorklistStore interface {
	worklist
	procedureStep
}

// IInstanceStore groups the operations on received image records and their blobs.
type IInstanceStore interface {
	instance
	upload
}

// worklist defines methods for creating, querying and administering worklist items.
type worklist interface {
	StoreWorklistItem(ctx context.Context, item *model.WorklistItem) (string, error)                                    // Inserts a new item, returns its accession number
	FindWorklistItems(ctx context.Context, filter model.WorklistFilter, status model.WorklistStatus) ([]model.WorklistItem, error) // C-FIND lookup
	GetWorklistItem(ctx context.Context, accessionNumber string) (*model.WorklistItem, error)
	ListWorklistItems(ctx context.Context, status model.WorklistStatus, limit, offset int) ([]model.WorklistItem, error)
	UpdateStudyInstanceUID(ctx context.Context, accessionNumber, studyInstanceUID string) error
	DeleteWorklistItem(ctx context.Context, accessionNumber string) error
	GetSourceMessageID(ctx context.Context, accessionNumber string) (string, error)
}

// procedureStep defines the methods the MPPS handlers drive.
type procedureStep interface {
	MPPSInstanceExists(ctx context.Context, mppsInstanceUID string) (bool, error)
	GetWorklistItemByMPPSInstanceUID(ctx context.Context, mppsInstanceUID string) (*model.WorklistItem, error)
	UpdateStatus(ctx context.Context, accessionNumber string, status model.WorklistStatus, mppsInstanceUID string) (string, error)
}

// instance defines methods for persisting and reading image objects.
type instance interface {
	StoreInstance(ctx context.Context, sopInstanceUID string, data []byte, meta model.InstanceMetadata, sourceAET string) (string, error)
	InstanceExists(ctx context.Context, sopInstanceUID string) (bool, error)
	GetInstance(ctx context.Context, sopInstanceUID string) (*model.StoredInstance, error)
	VerifyInstance(ctx context.Context, sopInstanceUID string) (bool, error)
	AbsolutePath(relativePath string) string
	Stats(ctx context.Context, recent int) (*model.StorageStats, error)
}

// upload defines the methods the upload engine and operators use to track delivery.
type upload interface {
	GetPendingUploads(ctx context.Context, limit, maxAttempts int) ([]model.StoredInstance, error)
	MarkUploadStarted(ctx context.Context, sopInstanceUID string) error
	MarkUploadComplete(ctx context.Context, sopInstanceUID string) error
	MarkUploadFailed(ctx context.Context, sopInstanceUID, errText string, permanent bool) error
	ListFailedUploads(ctx context.Context, limit int) ([]model.StoredInstance, error)
	RetryUpload(ctx context.Context, sopInstanceUID string) error
	RecoverStaleUploads(ctx context.Context, staleBefore time.Time, maxAttempts int) (int64, error)
}
