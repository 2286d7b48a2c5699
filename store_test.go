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
package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/database/mocks"
	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/imaging"
	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

const testSOPInstanceUID = "1.2.826.0.1.3680043.8.498.1"

func storeDataset(t *testing.T) *dicom.Dataset {
	t.Helper()
	ds, err := new(dimse.Builder).
		AddString(tag.SOPClassUID, dimse.DigitalMammographyForPresentation).
		AddString(tag.SOPInstanceUID, testSOPInstanceUID).
		AddString(tag.StudyInstanceUID, "1.2.826.0.1.3680043.8.498.2").
		AddString(tag.PatientID, "9990001234").
		AddString(tag.PatientName, "SMITH^JANE").
		AddString(tag.AccessionNumber, "ACC001").
		Dataset()
	require.NoError(t, err)
	return ds
}

func TestHandleStore_Stores(t *testing.T) {
	instances := new(mocks.MockInstanceStore)
	g := NewGateway(new(mocks.MockWorklistStore), WithInstanceStore(instances))

	meta := model.InstanceMetadata{PatientID: "9990001234", PatientName: "SMITH^JANE", AccessionNumber: "ACC001"}
	var written []byte
	instances.On("StoreInstance", mock.Anything, testSOPInstanceUID, mock.Anything, meta, "MODALITY").
		Run(func(args mock.Arguments) { written = args.Get(2).([]byte) }).
		Return("/data/ab/cd/x.dcm", nil)

	status := g.HandleStore(context.Background(), dimse.StoreRequest{CallingAETitle: "MODALITY", Dataset: storeDataset(t)})
	assert.Equal(t, dimse.StatusSuccess, status)
	instances.AssertExpectations(t)

	require.NoError(t, imaging.ValidateBytes(written))
	parsed, err := imaging.Decode(written)
	require.NoError(t, err)
	assert.Equal(t, testSOPInstanceUID, dimse.String(parsed, tag.SOPInstanceUID))
}

func TestHandleStore_DuplicateIsSuccess(t *testing.T) {
	instances := new(mocks.MockInstanceStore)
	g := NewGateway(new(mocks.MockWorklistStore), WithInstanceStore(instances))

	instances.On("StoreInstance", mock.Anything, testSOPInstanceUID, mock.Anything, mock.Anything, "MODALITY").
		Return("", apierror.NewAPIError(apierror.ErrConflict, "Instance already exists", nil))

	status := g.HandleStore(context.Background(), dimse.StoreRequest{CallingAETitle: "MODALITY", Dataset: storeDataset(t)})
	assert.Equal(t, dimse.StatusSuccess, status)
}

func TestHandleStore_StoreFailure(t *testing.T) {
	instances := new(mocks.MockInstanceStore)
	g := NewGateway(new(mocks.MockWorklistStore), WithInstanceStore(instances))

	instances.On("StoreInstance", mock.Anything, testSOPInstanceUID, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("no space left on device"))

	status := g.HandleStore(context.Background(), dimse.StoreRequest{CallingAETitle: "MODALITY", Dataset: storeDataset(t)})
	assert.Equal(t, dimse.StatusUnableToProcess, status)
}

func TestHandleStore_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, ds *dicom.Dataset)
	}{
		{name: "unsupported class", mutate: func(t *testing.T, ds *dicom.Dataset) {
			require.NoError(t, dimse.SetString(ds, tag.SOPClassUID, "1.2.840.10008.5.1.4.1.1.2"))
		}},
		{name: "missing instance uid", mutate: func(t *testing.T, ds *dicom.Dataset) {
			dimse.Remove(ds, tag.SOPInstanceUID)
		}},
		{name: "missing patient id", mutate: func(t *testing.T, ds *dicom.Dataset) {
			dimse.Remove(ds, tag.PatientID)
		}},
		{name: "missing study uid", mutate: func(t *testing.T, ds *dicom.Dataset) {
			dimse.Remove(ds, tag.StudyInstanceUID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instances := new(mocks.MockInstanceStore)
			g := NewGateway(new(mocks.MockWorklistStore), WithInstanceStore(instances))

			ds := storeDataset(t)
			tt.mutate(t, ds)
			status := g.HandleStore(context.Background(), dimse.StoreRequest{CallingAETitle: "MODALITY", Dataset: ds})
			assert.Equal(t, dimse.StatusUnableToProcess, status)
			instances.AssertNotCalled(t, "StoreInstance", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleStore_WithoutInstanceStore(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore))
	status := g.HandleStore(context.Background(), dimse.StoreRequest{Dataset: storeDataset(t)})
	assert.Equal(t, dimse.StatusUnableToProcess, status)
}

func TestHandleEchoAndRegistration(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore), WithInstanceStore(new(mocks.MockInstanceStore)))
	assert.Equal(t, dimse.StatusSuccess, g.HandleEcho(context.Background(), dimse.EchoRequest{}))

	mwl := dimse.NewServeMux()
	g.RegisterMWL(mwl)
	assert.ElementsMatch(t, []string{
		dimse.VerificationSOPClass,
		dimse.ModalityWorklistFindSOPClass,
		dimse.ModalityPerformedProcedureStep,
	}, mwl.SOPClasses())

	pacs := dimse.NewServeMux()
	g.RegisterPACS(pacs)
	assert.ElementsMatch(t, append([]string{dimse.VerificationSOPClass}, dimse.MammographyStorageClasses...), pacs.SOPClasses())
}
