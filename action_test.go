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
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/screening-gateway/gateway/database/mocks"
	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

func createItemAction(t *testing.T, actionID, accession string) model.Action {
	t.Helper()
	params := map[string]interface{}{
		"worklist_item": map[string]interface{}{
			"accession_number": accession,
			"participant": map[string]interface{}{
				"nhs_number": gofakeit.DigitN(10),
				"name":       fmt.Sprintf("%s^%s", gofakeit.LastName(), gofakeit.FirstName()),
				"birth_date": "19600101",
				"sex":        "f",
			},
			"scheduled": map[string]interface{}{"date": "20240315", "time": "093000"},
			"procedure": map[string]interface{}{"modality": "mg", "study_description": "Bilateral screening"},
		},
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return model.Action{ActionID: actionID, ActionType: model.ActionCreateWorklistItem, Parameters: raw}
}

func TestHandleAction_CreateWorklistItem(t *testing.T) {
	store := new(mocks.MockWorklistStore)
	g := NewGateway(store)

	var stored *model.WorklistItem
	store.On("StoreWorklistItem", mock.Anything, mock.AnythingOfType("*model.WorklistItem")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*model.WorklistItem) }).
		Return("ACC100", nil)

	result := g.HandleAction(context.Background(), createItemAction(t, "action-1", "ACC100"))
	assert.Equal(t, model.ActionResult{Status: model.ActionStatusCreated, ActionID: "action-1"}, result)

	require.NotNil(t, stored)
	assert.Equal(t, "ACC100", stored.AccessionNumber)
	assert.Equal(t, "action-1", stored.SourceMessageID)
	assert.Equal(t, "MG", stored.Modality)
	assert.Equal(t, "F", stored.PatientSex)
	assert.Equal(t, model.StatusScheduled, stored.Status)
	assert.Len(t, stored.PatientID, 10)
}

func TestHandleAction_MissingActionID(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore))
	result := g.HandleAction(context.Background(), model.Action{ActionType: model.ActionCreateWorklistItem})
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Equal(t, "Missing action_id", result.Error)
}

func TestHandleAction_UnknownType(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore))
	result := g.HandleAction(context.Background(), model.Action{ActionID: "a1", ActionType: "worklist.delete_item"})
	assert.Equal(t, model.ActionResult{
		Status:   model.ActionStatusError,
		ActionID: "a1",
		Error:    "Unknown action type: worklist.delete_item",
	}, result)
}

func TestHandleAction_InvalidItem(t *testing.T) {
	store := new(mocks.MockWorklistStore)
	g := NewGateway(store)

	action := createItemAction(t, "a1", "")
	result := g.HandleAction(context.Background(), action)
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Contains(t, result.Error, "accession_number")
	store.AssertNotCalled(t, "StoreWorklistItem", mock.Anything, mock.Anything)
}

func TestHandleAction_InvalidParameters(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore))
	action := model.Action{ActionID: "a1", ActionType: model.ActionCreateWorklistItem, Parameters: json.RawMessage(`[1,2]`)}
	result := g.HandleAction(context.Background(), action)
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Contains(t, result.Error, "Invalid parameters")
}

func TestHandleAction_DuplicateAccession(t *testing.T) {
	store := new(mocks.MockWorklistStore)
	g := NewGateway(store)
	store.On("StoreWorklistItem", mock.Anything, mock.Anything).
		Return("", apierror.NewAPIError(apierror.ErrConflict, "Worklist item with accession number 'ACC1' already exists", errors.New("UNIQUE constraint failed")))

	result := g.HandleAction(context.Background(), createItemAction(t, "a1", "ACC1"))
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Equal(t, "a1", result.ActionID)
	assert.Contains(t, result.Error, "already exists")
}

func TestHandleAction_HandlerPanic(t *testing.T) {
	g := NewGateway(new(mocks.MockWorklistStore))
	g.RegisterAction("test.panic", func(context.Context, model.Action) error { panic("nil map") })

	result := g.HandleAction(context.Background(), model.Action{ActionID: "a1", ActionType: "test.panic"})
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Equal(t, "internal error: nil map", result.Error)
}

func TestHandleActionPayload(t *testing.T) {
	store := new(mocks.MockWorklistStore)
	g := NewGateway(store)
	store.On("StoreWorklistItem", mock.Anything, mock.Anything).Return("ACC2", nil)

	raw, err := json.Marshal(createItemAction(t, "a2", "ACC2"))
	require.NoError(t, err)
	result := g.HandleActionPayload(context.Background(), raw)
	assert.Equal(t, model.ActionStatusCreated, result.Status)

	result = g.HandleActionPayload(context.Background(), []byte(`{"action_id":`))
	assert.Equal(t, model.ActionStatusError, result.Status)
	assert.Contains(t, result.Error, "Invalid action payload")
}
