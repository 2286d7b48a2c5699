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

package dimse

import (
	"context"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
)

type (
	EchoHandlerFunc    func(ctx context.Context, req EchoRequest) Status
	FindHandlerFunc    func(ctx context.Context, req FindRequest) iter.Seq2[Status, *dicom.Dataset]
	StoreHandlerFunc   func(ctx context.Context, req StoreRequest) Status
	NCreateHandlerFunc func(ctx context.Context, req NCreateRequest) (Status, *dicom.Dataset)
	NSetHandlerFunc    func(ctx context.Context, req NSetRequest) (Status, *dicom.Dataset)
)

// ServeMux routes decoded requests to the handler registered for their command.
type ServeMux struct {
	echo    EchoHandlerFunc
	find    FindHandlerFunc
	store   StoreHandlerFunc
	nCreate NCreateHandlerFunc
	nSet    NSetHandlerFunc

	storageClasses []string
}

func NewServeMux() *ServeMux {
	return &ServeMux{}
}

func (m *ServeMux) HandleEcho(h EchoHandlerFunc) { m.echo = h }

func (m *ServeMux) HandleFind(h FindHandlerFunc) { m.find = h }

// HandleStore registers the C-STORE handler for the given storage SOP classes.
func (m *ServeMux) HandleStore(h StoreHandlerFunc, sopClasses ...string) {
	m.store = h
	m.storageClasses = append([]string(nil), sopClasses...)
}

func (m *ServeMux) HandleNCreate(h NCreateHandlerFunc) { m.nCreate = h }

func (m *ServeMux) HandleNSet(h NSetHandlerFunc) { m.nSet = h }

// SOPClasses lists the abstract syntaxes implied by the registered handlers.
func (m *ServeMux) SOPClasses() []string {
	var classes []string
	if m.echo != nil {
		classes = append(classes, VerificationSOPClass)
	}
	if m.find != nil {
		classes = append(classes, ModalityWorklistFindSOPClass)
	}
	if m.nCreate != nil || m.nSet != nil {
		classes = append(classes, ModalityPerformedProcedureStep)
	}
	if m.store != nil {
		classes = append(classes, m.storageClasses...)
	}
	return classes
}

// Serve runs the handler for req and passes every response to respond. A C-FIND
// yields its Pending responses followed by one final response. A handler panic
// is answered with a failure status for the command.
func (m *ServeMux) Serve(ctx context.Context, req Request, respond func(Response) error) (err error) {
	command := req.Command()
	final := false
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("command", command.String()).Errorf("handler panic: %v", r)
			if !final {
				err = respond(Response{Command: command, Status: failureStatus(command)})
			}
		}
	}()

	switch r := req.(type) {
	case EchoRequest:
		if m.echo == nil {
			return m.unhandled(command, respond)
		}
		final = true
		return respond(Response{Command: command, Status: m.echo(ctx, r)})

	case FindRequest:
		if m.find == nil {
			return m.unhandled(command, respond)
		}
		for status, ds := range m.find(ctx, r) {
			if !status.IsPending() {
				final = true
			}
			if err := respond(Response{Command: command, Status: status, Dataset: ds}); err != nil {
				return err
			}
			if final {
				return nil
			}
		}
		final = true
		return respond(Response{Command: command, Status: StatusSuccess})

	case StoreRequest:
		if m.store == nil {
			return m.unhandled(command, respond)
		}
		status := m.store(ctx, r)
		final = true
		return respond(Response{Command: command, Status: status})

	case NCreateRequest:
		if m.nCreate == nil {
			return m.unhandled(command, respond)
		}
		status, ds := m.nCreate(ctx, r)
		final = true
		return respond(Response{Command: command, Status: status, Dataset: ds})

	case NSetRequest:
		if m.nSet == nil {
			return m.unhandled(command, respond)
		}
		status, ds := m.nSet(ctx, r)
		final = true
		return respond(Response{Command: command, Status: status, Dataset: ds})

	default:
		return fmt.Errorf("dimse: unsupported request type %T", req)
	}
}

func (m *ServeMux) unhandled(command Command, respond func(Response) error) error {
	logrus.WithField("command", command.String()).Warn("no handler registered")
	return respond(Response{Command: command, Status: StatusUnrecognizedOperation})
}

func failureStatus(c Command) Status {
	switch c {
	case NCreate, NSet:
		return StatusProcessingFailure
	default:
		return StatusUnableToProcess
	}
}
