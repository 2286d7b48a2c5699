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
	"iter"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/model"
)

// worklistFilter extracts the supported matching keys from a C-FIND identifier.
// Modality and start date are read from the first scheduled step item.
func worklistFilter(identifier *dicom.Dataset) model.WorklistFilter {
	filter := model.WorklistFilter{PatientID: dimse.String(identifier, tag.PatientID)}
	if sps, ok := dimse.FirstSequenceItem(identifier, tag.ScheduledProcedureStepSequence); ok {
		filter.Modality = dimse.String(sps, tag.Modality)
		filter.ScheduledDate = dimse.String(sps, tag.ScheduledProcedureStepStartDate)
	}
	return filter
}

// HandleFind answers a modality worklist query. It yields one Pending response
// per matching scheduled record followed by Success, or a single
// UnableToProcess when the lookup or a response build fails.
func (g *Gateway) HandleFind(ctx context.Context, identifier *dicom.Dataset) iter.Seq2[dimse.Status, *dicom.Dataset] {
	return func(yield func(dimse.Status, *dicom.Dataset) bool) {
		filter := worklistFilter(identifier)
		logger := logrus.WithFields(logrus.Fields{
			"modality":   filter.Modality,
			"date":       filter.ScheduledDate,
			"patient_id": filter.PatientID,
		})

		items, err := g.worklist.FindWorklistItems(ctx, filter, model.StatusScheduled)
		if err != nil {
			logger.Errorf("error processing C-FIND request: %v", err)
			g.metrics.ObserveDimse(dimse.CFind.String(), dimse.StatusUnableToProcess.String())
			yield(dimse.StatusUnableToProcess, nil)
			return
		}
		logger.Infof("found %d matching worklist items", len(items))

		responses := make([]*dicom.Dataset, 0, len(items))
		for i := range items {
			ds, err := worklistResponse(&items[i])
			if err != nil {
				logger.WithField("accession_number", items[i].AccessionNumber).Errorf("failed to build worklist response: %v", err)
				g.metrics.ObserveDimse(dimse.CFind.String(), dimse.StatusUnableToProcess.String())
				yield(dimse.StatusUnableToProcess, nil)
				return
			}
			responses = append(responses, ds)
		}

		for _, ds := range responses {
			if !yield(dimse.StatusPending, ds) {
				return
			}
		}
		g.metrics.AddFindMatches(len(responses))
		g.metrics.ObserveDimse(dimse.CFind.String(), dimse.StatusSuccess.String())
		yield(dimse.StatusSuccess, nil)
	}
}

// worklistResponse projects a record onto the worklist return keys. Optional
// attributes with no stored value are left out.
func worklistResponse(item *model.WorklistItem) (*dicom.Dataset, error) {
	sps, err := new(dimse.Builder).
		AddString(tag.Modality, item.Modality).
		AddString(tag.ScheduledProcedureStepStartDate, item.ScheduledDate).
		AddString(tag.ScheduledProcedureStepStartTime, item.ScheduledTime).
		AddStringIfPresent(tag.ScheduledProcedureStepDescription, item.StudyDescription).
		AddStringIfPresent(tag.ScheduledProcedureStepID, item.ProcedureCode).
		Elements()
	if err != nil {
		return nil, err
	}

	return new(dimse.Builder).
		AddString(tag.PatientID, item.PatientID).
		AddString(tag.PatientName, item.PatientName).
		AddString(tag.PatientBirthDate, item.PatientBirthDate).
		AddStringIfPresent(tag.PatientSex, item.PatientSex).
		AddString(tag.AccessionNumber, item.AccessionNumber).
		AddStringIfPresent(tag.StudyInstanceUID, item.StudyInstanceUID).
		AddStringIfPresent(tag.StudyDescription, item.StudyDescription).
		AddStringIfPresent(tag.RequestedProcedureID, item.ProcedureCode).
		Add(tag.ScheduledProcedureStepSequence, [][]*dicom.Element{sps}).
		Dataset()
}
