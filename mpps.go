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
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

// HandleNCreate starts a performed procedure step. The referenced worklist
// record moves from SCHEDULED to IN PROGRESS and is bound to the step UID.
func (g *Gateway) HandleNCreate(ctx context.Context, req dimse.NCreateRequest) (dimse.Status, *dicom.Dataset) {
	status, ds := g.nCreate(ctx, req)
	g.metrics.ObserveDimse(dimse.NCreate.String(), status.String())
	return status, ds
}

func (g *Gateway) nCreate(ctx context.Context, req dimse.NCreateRequest) (dimse.Status, *dicom.Dataset) {
	uid := req.AffectedSOPInstanceUID
	logger := logrus.WithField("mpps_instance_uid", uid)

	if uid == "" {
		logger.Warn("MPPS N-CREATE: missing affected SOP instance UID")
		return dimse.StatusInvalidAttributeValue, nil
	}

	exists, err := g.worklist.MPPSInstanceExists(ctx, uid)
	if err != nil {
		logger.Errorf("MPPS N-CREATE: %v", err)
		return dimse.StatusProcessingFailure, nil
	}
	if exists {
		logger.Warn("MPPS N-CREATE: SOP instance already exists")
		return dimse.StatusDuplicateSOPInstance, nil
	}

	stepStatus := dimse.String(req.Attributes, tag.PerformedProcedureStepStatus)
	if stepStatus == "" {
		logger.Warn("MPPS N-CREATE: missing PerformedProcedureStepStatus")
		return dimse.StatusMissingAttribute, nil
	}
	if model.WorklistStatus(strings.ToUpper(stepStatus)) != model.StatusInProgress {
		logger.WithField("status", stepStatus).Warn("MPPS N-CREATE: invalid PerformedProcedureStepStatus")
		return dimse.StatusInvalidAttributeValue, nil
	}

	ssa, ok := dimse.FirstSequenceItem(req.Attributes, tag.ScheduledStepAttributesSequence)
	if !ok {
		logger.Warn("MPPS N-CREATE: missing ScheduledStepAttributesSequence")
		return dimse.StatusMissingAttribute, nil
	}
	accession := dimse.String(ssa, tag.AccessionNumber)
	if accession == "" {
		logger.Warn("MPPS N-CREATE: missing AccessionNumber in ScheduledStepAttributesSequence")
		return dimse.StatusMissingAttribute, nil
	}
	logger = logger.WithField("accession_number", accession)

	response, err := mppsResponse(uid, req.Attributes)
	if err != nil {
		logger.Errorf("MPPS N-CREATE: %v", err)
		return dimse.StatusProcessingFailure, nil
	}

	_, err = g.worklist.UpdateStatus(ctx, accession, model.StatusInProgress, uid)
	switch {
	case err == nil:
		logger.Infof("worklist item updated: %s -> %s", accession, model.StatusInProgress)
	case apierror.Is(err, apierror.ErrNotFound):
		logger.Warn("MPPS N-CREATE: accession not found in worklist")
	case apierror.Is(err, apierror.ErrConflict):
		logger.Warnf("MPPS N-CREATE: %v", err)
		return dimse.StatusProcessingFailure, nil
	default:
		logger.Errorf("MPPS N-CREATE: %v", err)
		return dimse.StatusProcessingFailure, nil
	}

	return dimse.StatusSuccess, response
}

// HandleNSet completes or discontinues a performed procedure step.
func (g *Gateway) HandleNSet(ctx context.Context, req dimse.NSetRequest) (dimse.Status, *dicom.Dataset) {
	status, ds := g.nSet(ctx, req)
	g.metrics.ObserveDimse(dimse.NSet.String(), status.String())
	return status, ds
}

func (g *Gateway) nSet(ctx context.Context, req dimse.NSetRequest) (dimse.Status, *dicom.Dataset) {
	uid := req.RequestedSOPInstanceUID
	logger := logrus.WithField("mpps_instance_uid", uid)

	stepStatus := model.WorklistStatus(dimse.String(req.Attributes, tag.PerformedProcedureStepStatus))
	if stepStatus == "" {
		logger.Warn("MPPS N-SET: missing PerformedProcedureStepStatus")
		return dimse.StatusMissingAttribute, nil
	}
	if stepStatus != model.StatusCompleted && stepStatus != model.StatusDiscontinued {
		logger.WithField("status", stepStatus).Warn("MPPS N-SET: invalid PerformedProcedureStepStatus")
		return dimse.StatusInvalidAttributeValue, nil
	}

	item, err := g.worklist.GetWorklistItemByMPPSInstanceUID(ctx, uid)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			logger.Warn("MPPS N-SET: no worklist item for SOP instance")
			return dimse.StatusNoSuchSOPInstance, nil
		}
		logger.Errorf("MPPS N-SET: %v", err)
		return dimse.StatusProcessingFailure, nil
	}
	logger = logger.WithField("accession_number", item.AccessionNumber)

	response, err := mppsResponse(uid, req.Attributes)
	if err != nil {
		logger.Errorf("MPPS N-SET: %v", err)
		return dimse.StatusProcessingFailure, nil
	}

	if _, err := g.worklist.UpdateStatus(ctx, item.AccessionNumber, stepStatus, ""); err != nil {
		logger.Warnf("MPPS N-SET: failed to update worklist status: %v", err)
		return dimse.StatusProcessingFailure, nil
	}
	logger.Infof("worklist item updated: %s -> %s", item.AccessionNumber, stepStatus)

	return dimse.StatusSuccess, response
}

// mppsResponse echoes the request attributes with the MPPS class and instance.
func mppsResponse(uid string, attrs *dicom.Dataset) (*dicom.Dataset, error) {
	ds, err := new(dimse.Builder).
		AddString(tag.SOPClassUID, dimse.ModalityPerformedProcedureStep).
		AddString(tag.SOPInstanceUID, uid).
		Dataset()
	if err != nil {
		return nil, err
	}
	if attrs != nil {
		for _, elem := range attrs.Elements {
			dimse.Set(ds, elem)
		}
	}
	return ds, nil
}
