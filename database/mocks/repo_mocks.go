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
package mocks

import (
	"context"
	"time"

	"github.com/screening-gateway/gateway/model"
	"github.com/stretchr/testify/mock"
)

// MockWorklistStore is a mock implementation of the IWorklistStore interface
type MockWorklistStore struct {
	mock.Mock
}

func (m *MockWorklistStore) StoreWorklistItem(ctx context.Context, item *model.WorklistItem) (string, error) {
	args := m.Called(ctx, item)
	return args.String(0), args.Error(1)
}

func (m *MockWorklistStore) FindWorklistItems(ctx context.Context, filter model.WorklistFilter, status model.WorklistStatus) ([]model.WorklistItem, error) {
	args := m.Called(ctx, filter, status)
	items, _ := args.Get(0).([]model.WorklistItem)
	return items, args.Error(1)
}

func (m *MockWorklistStore) GetWorklistItem(ctx context.Context, accessionNumber string) (*model.WorklistItem, error) {
	args := m.Called(ctx, accessionNumber)
	item, _ := args.Get(0).(*model.WorklistItem)
	return item, args.Error(1)
}

func (m *MockWorklistStore) ListWorklistItems(ctx context.Context, status model.WorklistStatus, limit, offset int) ([]model.WorklistItem, error) {
	args := m.Called(ctx, status, limit, offset)
	items, _ := args.Get(0).([]model.WorklistItem)
	return items, args.Error(1)
}

func (m *MockWorklistStore) UpdateStudyInstanceUID(ctx context.Context, accessionNumber, studyInstanceUID string) error {
	args := m.Called(ctx, accessionNumber, studyInstanceUID)
	return args.Error(0)
}

func (m *MockWorklistStore) DeleteWorklistItem(ctx context.Context, accessionNumber string) error {
	args := m.Called(ctx, accessionNumber)
	return args.Error(0)
}

func (m *MockWorklistStore) GetSourceMessageID(ctx context.Context, accessionNumber string) (string, error) {
	args := m.Called(ctx, accessionNumber)
	return args.String(0), args.Error(1)
}

func (m *MockWorklistStore) MPPSInstanceExists(ctx context.Context, mppsInstanceUID string) (bool, error) {
	args := m.Called(ctx, mppsInstanceUID)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorklistStore) GetWorklistItemByMPPSInstanceUID(ctx context.Context, mppsInstanceUID string) (*model.WorklistItem, error) {
	args := m.Called(ctx, mppsInstanceUID)
	item, _ := args.Get(0).(*model.WorklistItem)
	return item, args.Error(1)
}

func (m *MockWorklistStore) UpdateStatus(ctx context.Context, accessionNumber string, status model.WorklistStatus, mppsInstanceUID string) (string, error) {
	args := m.Called(ctx, accessionNumber, status, mppsInstanceUID)
	return args.String(0), args.Error(1)
}

// MockInstanceStore is a mock implementation of the IInstanceStore interface
type MockInstanceStore struct {
	mock.Mock
}

func (m *MockInstanceStore) StoreInstance(ctx context.Context, sopInstanceUID string, data []byte, meta model.InstanceMetadata, sourceAET string) (string, error) {
	args := m.Called(ctx, sopInstanceUID, data, meta, sourceAET)
	return args.String(0), args.Error(1)
}

func (m *MockInstanceStore) InstanceExists(ctx context.Context, sopInstanceUID string) (bool, error) {
	args := m.Called(ctx, sopInstanceUID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstanceStore) GetInstance(ctx context.Context, sopInstanceUID string) (*model.StoredInstance, error) {
	args := m.Called(ctx, sopInstanceUID)
	inst, _ := args.Get(0).(*model.StoredInstance)
	return inst, args.Error(1)
}

func (m *MockInstanceStore) VerifyInstance(ctx context.Context, sopInstanceUID string) (bool, error) {
	args := m.Called(ctx, sopInstanceUID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstanceStore) AbsolutePath(relativePath string) string {
	args := m.Called(relativePath)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(relativePath)
	}
	return args.String(0)
}

func (m *MockInstanceStore) Stats(ctx context.Context, recent int) (*model.StorageStats, error) {
	args := m.Called(ctx, recent)
	stats, _ := args.Get(0).(*model.StorageStats)
	return stats, args.Error(1)
}

func (m *MockInstanceStore) GetPendingUploads(ctx context.Context, limit, maxAttempts int) ([]model.StoredInstance, error) {
	args := m.Called(ctx, limit, maxAttempts)
	instances, _ := args.Get(0).([]model.StoredInstance)
	return instances, args.Error(1)
}

func (m *MockInstanceStore) MarkUploadStarted(ctx context.Context, sopInstanceUID string) error {
	args := m.Called(ctx, sopInstanceUID)
	return args.Error(0)
}

func (m *MockInstanceStore) MarkUploadComplete(ctx context.Context, sopInstanceUID string) error {
	args := m.Called(ctx, sopInstanceUID)
	return args.Error(0)
}

func (m *MockInstanceStore) MarkUploadFailed(ctx context.Context, sopInstanceUID, errText string, permanent bool) error {
	args := m.Called(ctx, sopInstanceUID, errText, permanent)
	return args.Error(0)
}

func (m *MockInstanceStore) ListFailedUploads(ctx context.Context, limit int) ([]model.StoredInstance, error) {
	args := m.Called(ctx, limit)
	instances, _ := args.Get(0).([]model.StoredInstance)
	return instances, args.Error(1)
}

func (m *MockInstanceStore) RetryUpload(ctx context.Context, sopInstanceUID string) error {
	args := m.Called(ctx, sopInstanceUID)
	return args.Error(0)
}

func (m *MockInstanceStore) RecoverStaleUploads(ctx context.Context, staleBefore time.Time, maxAttempts int) (int64, error) {
	args := m.Called(ctx, staleBefore, maxAttempts)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}
