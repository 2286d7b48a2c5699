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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/internal/apierror"
	"github.com/screening-gateway/gateway/model"
)

var (
	errMissingActionID   = errors.New("Missing action_id")
	errUnknownActionType = errors.New("Unknown action type")
	errInvalidParameters = errors.New("Invalid parameters")
	errActionPanic       = errors.New("internal error")
)

// ActionHandler performs one action type. A returned error becomes the error
// text of the action result.
type ActionHandler func(ctx context.Context, action model.Action) error

// RegisterAction adds or replaces the handler for an action type.
func (g *Gateway) RegisterAction(actionType string, h ActionHandler) {
	g.actions[actionType] = h
}

// HandleActionPayload decodes a JSON action envelope and handles it.
func (g *Gateway) HandleActionPayload(ctx context.Context, payload []byte) model.ActionResult {
	var action model.Action
	if err := json.Unmarshal(payload, &action); err != nil {
		logrus.Errorf("failed to decode action payload: %v", err)
		g.metrics.ObserveAction("", model.ActionStatusError)
		return model.ActionResult{Status: model.ActionStatusError, Error: fmt.Sprintf("Invalid action payload: %v", err)}
	}
	return g.HandleAction(ctx, action)
}

// HandleAction validates and dispatches an action. It always returns a result,
// converting failures and handler panics into an error result.
func (g *Gateway) HandleAction(ctx context.Context, action model.Action) model.ActionResult {
	result, _ := g.dispatchAction(ctx, action)
	return result
}

// dispatchAction is HandleAction that also returns the cause of an error result.
func (g *Gateway) dispatchAction(ctx context.Context, action model.Action) (result model.ActionResult, cause error) {
	logger := logrus.WithFields(logrus.Fields{
		"action_id":   action.ActionID,
		"action_type": action.ActionType,
	})
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("action handler panic: %v", r)
			cause = fmt.Errorf("%w: %v", errActionPanic, r)
			result = actionError(action.ActionID, cause)
		}
		g.metrics.ObserveAction(action.ActionType, result.Status)
	}()

	if action.ActionID == "" {
		logger.Error("action rejected: missing action_id")
		return actionError("", errMissingActionID), errMissingActionID
	}

	handler, ok := g.actions[action.ActionType]
	if !ok {
		logger.Error("action rejected: unknown action type")
		cause = fmt.Errorf("%w: %s", errUnknownActionType, action.ActionType)
		return actionError(action.ActionID, cause), cause
	}

	if err := handler(ctx, action); err != nil {
		logger.Errorf("action failed: %v", err)
		return actionError(action.ActionID, err), err
	}

	logger.Info("action processed")
	return model.ActionResult{Status: model.ActionStatusCreated, ActionID: action.ActionID}, nil
}

// retryableAction reports whether redelivering a failed action could succeed.
// Rejected envelopes, invalid items, duplicates and handler panics fail the
// same way every time.
func retryableAction(err error) bool {
	if err == nil {
		return false
	}
	var verrs validation.Errors
	var verr validation.Error
	switch {
	case errors.Is(err, errMissingActionID),
		errors.Is(err, errUnknownActionType),
		errors.Is(err, errInvalidParameters),
		errors.Is(err, errActionPanic),
		errors.As(err, &verrs),
		errors.As(err, &verr),
		apierror.Is(err, apierror.ErrConflict),
		apierror.Is(err, apierror.ErrInvalidInput),
		apierror.Is(err, apierror.ErrBadRequest),
		apierror.Is(err, apierror.ErrNotFound):
		return false
	}
	return true
}

func actionError(actionID string, err error) model.ActionResult {
	return model.ActionResult{Status: model.ActionStatusError, ActionID: actionID, Error: err.Error()}
}

// createWorklistItem stores the worklist item carried by a
// worklist.create_item action, keyed back to the action by its ID.
func (g *Gateway) createWorklistItem(ctx context.Context, action model.Action) error {
	var params model.CreateWorklistItemParams
	if len(action.Parameters) > 0 {
		if err := json.Unmarshal(action.Parameters, &params); err != nil {
			return fmt.Errorf("%w: %v", errInvalidParameters, err)
		}
	}

	item := params.WorklistItem.ToWorklistItem(action.ActionID)
	item.Normalize()
	if err := item.ValidateNew(); err != nil {
		return err
	}

	accession, err := g.worklist.StoreWorklistItem(ctx, item)
	if err != nil {
		return err
	}
	logrus.WithField("accession_number", accession).Info("created worklist item")
	return nil
}
