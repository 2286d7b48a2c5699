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
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/imaging"
	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

// HandleStore receives a mammography image, transforms it and writes it to the
// instance store. Re-sending an instance that is already stored succeeds
// without rewriting it.
func (g *Gateway) HandleStore(ctx context.Context, req dimse.StoreRequest) dimse.Status {
	status := g.store(ctx, req)
	g.metrics.ObserveDimse(dimse.CStore.String(), status.String())
	return status
}

func (g *Gateway) store(ctx context.Context, req dimse.StoreRequest) dimse.Status {
	ds := req.Dataset
	sopClass := dimse.String(ds, tag.SOPClassUID)
	sopInstanceUID := dimse.String(ds, tag.SOPInstanceUID)
	logger := logrus.WithFields(logrus.Fields{
		"sop_instance_uid": sopInstanceUID,
		"calling_aet":      req.CallingAETitle,
	})

	if g.instances == nil {
		logger.Error("C-STORE: no instance store configured")
		return dimse.StatusUnableToProcess
	}
	if !slices.Contains(dimse.MammographyStorageClasses, sopClass) {
		logger.WithField("sop_class_uid", sopClass).Warn("C-STORE: unsupported SOP class")
		return dimse.StatusUnableToProcess
	}
	if sopInstanceUID == "" {
		logger.Error("C-STORE: missing SOP instance UID")
		return dimse.StatusUnableToProcess
	}
	patientID := dimse.String(ds, tag.PatientID)
	if patientID == "" {
		logger.Error("C-STORE: missing patient ID")
		return dimse.StatusUnableToProcess
	}
	if err := imaging.ValidateDataset(ds); err != nil {
		logger.Errorf("C-STORE: %v", err)
		return dimse.StatusUnableToProcess
	}

	result := g.pipeline.Apply(ds)
	for _, warning := range result.Warnings {
		logger.Warnf("C-STORE: transform: %s", warning)
	}

	data, err := imaging.Encode(result.Dataset)
	if err != nil {
		logger.Errorf("C-STORE: %v", err)
		return dimse.StatusUnableToProcess
	}
	if err := imaging.ValidateBytes(data); err != nil {
		logger.Errorf("C-STORE: %v", err)
		return dimse.StatusUnableToProcess
	}

	meta := model.InstanceMetadata{
		PatientID:       patientID,
		PatientName:     dimse.String(ds, tag.PatientName),
		AccessionNumber: dimse.String(ds, tag.AccessionNumber),
	}
	if _, err := g.instances.StoreInstance(ctx, sopInstanceUID, data, meta, req.CallingAETitle); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			logger.Warn("C-STORE: instance already exists")
			return dimse.StatusSuccess
		}
		logger.Errorf("C-STORE: %v", err)
		return dimse.StatusUnableToProcess
	}
	g.metrics.AddStoredBytes(len(data))

	return dimse.StatusSuccess
}
