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
	"errors"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// memAssociation replays a fixed list of requests and records responses.
type memAssociation struct {
	info     AssociationInfo
	requests chan Request

	mu        sync.Mutex
	responses []Response
	closeOnce sync.Once
	closed    chan struct{}
}

func newMemAssociation(calling string, reqs ...Request) *memAssociation {
	a := &memAssociation{
		info:     AssociationInfo{CallingAETitle: calling, CalledAETitle: "TEST_SCP"},
		requests: make(chan Request, len(reqs)),
		closed:   make(chan struct{}),
	}
	for _, r := range reqs {
		a.requests <- r
	}
	close(a.requests)
	return a
}

func (a *memAssociation) Info() AssociationInfo { return a.info }

func (a *memAssociation) Next(ctx context.Context) (Request, error) {
	select {
	case req, ok := <-a.requests:
		if !ok {
			return nil, io.EOF
		}
		return req, nil
	case <-a.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *memAssociation) Respond(_ context.Context, resp Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses = append(a.responses, resp)
	return nil
}

func (a *memAssociation) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

func (a *memAssociation) Responses() []Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Response(nil), a.responses...)
}

type memListener struct {
	assocs    chan Association
	closeOnce sync.Once
	done      chan struct{}
}

func newMemListener() *memListener {
	return &memListener{assocs: make(chan Association, 4), done: make(chan struct{})}
}

func (l *memListener) Accept(ctx context.Context) (Association, error) {
	select {
	case a := <-l.assocs:
		return a, nil
	case <-l.done:
		return nil, errors.New("listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *memListener) Addr() string { return "mem" }

type memTransport struct {
	listener *memListener
	cfg      ListenConfig
}

func (t *memTransport) Listen(_ context.Context, cfg ListenConfig) (Listener, error) {
	t.cfg = cfg
	return t.listener, nil
}

func patientDataset(t *testing.T, id string) *dicom.Dataset {
	t.Helper()
	ds, err := new(Builder).AddString(tag.PatientID, id).Dataset()
	require.NoError(t, err)
	return ds
}

func testMux(t *testing.T) *ServeMux {
	mux := NewServeMux()
	mux.HandleEcho(func(context.Context, EchoRequest) Status { return StatusSuccess })
	mux.HandleFind(func(_ context.Context, req FindRequest) iter.Seq2[Status, *dicom.Dataset] {
		return func(yield func(Status, *dicom.Dataset) bool) {
			for _, id := range []string{"P1", "P2"} {
				if !yield(StatusPending, patientDataset(t, id)) {
					return
				}
			}
			yield(StatusSuccess, nil)
		}
	})
	return mux
}

func TestServeMux_Find(t *testing.T) {
	mux := testMux(t)
	var got []Response
	err := mux.Serve(context.Background(), FindRequest{}, func(r Response) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, StatusPending, got[0].Status)
	assert.Equal(t, "P1", String(got[0].Dataset, tag.PatientID))
	assert.Equal(t, "P2", String(got[1].Dataset, tag.PatientID))
	assert.Equal(t, StatusSuccess, got[2].Status)
	assert.Nil(t, got[2].Dataset)
}

func TestServeMux_FindWithoutFinalStatus(t *testing.T) {
	mux := NewServeMux()
	mux.HandleFind(func(context.Context, FindRequest) iter.Seq2[Status, *dicom.Dataset] {
		return func(yield func(Status, *dicom.Dataset) bool) {
			yield(StatusPending, patientDataset(t, "P1"))
		}
	})

	var got []Response
	require.NoError(t, mux.Serve(context.Background(), FindRequest{}, func(r Response) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, StatusSuccess, got[1].Status)
}

func TestServeMux_UnhandledAndPanic(t *testing.T) {
	mux := NewServeMux()
	mux.HandleNSet(func(context.Context, NSetRequest) (Status, *dicom.Dataset) {
		panic("boom")
	})

	var got []Response
	respond := func(r Response) error {
		got = append(got, r)
		return nil
	}
	require.NoError(t, mux.Serve(context.Background(), StoreRequest{}, respond))
	require.NoError(t, mux.Serve(context.Background(), NSetRequest{}, respond))

	require.Len(t, got, 2)
	assert.Equal(t, StatusUnrecognizedOperation, got[0].Status)
	assert.Equal(t, StatusProcessingFailure, got[1].Status)
}

func TestServeMux_SOPClasses(t *testing.T) {
	mux := NewServeMux()
	mux.HandleEcho(func(context.Context, EchoRequest) Status { return StatusSuccess })
	mux.HandleStore(func(context.Context, StoreRequest) Status { return StatusSuccess }, MammographyStorageClasses...)

	assert.Equal(t, []string{
		VerificationSOPClass,
		DigitalMammographyForPresentation,
		DigitalMammographyForProcessing,
	}, mux.SOPClasses())
}

func TestServer_ServesAssociationsInOrder(t *testing.T) {
	listener := newMemListener()
	transport := &memTransport{listener: listener}
	server := &Server{AETitle: "TEST_SCP", Port: 11112, Handler: testMux(t), Transport: transport}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()

	assoc := newMemAssociation("MODALITY", EchoRequest{}, FindRequest{}, EchoRequest{})
	listener.assocs <- assoc

	require.Eventually(t, func() bool { return len(assoc.Responses()) == 5 }, time.Second, 5*time.Millisecond)
	got := assoc.Responses()
	assert.Equal(t, CEcho, got[0].Command)
	assert.Equal(t, CFind, got[1].Command)
	assert.Equal(t, StatusPending, got[1].Status)
	assert.Equal(t, StatusSuccess, got[3].Status)
	assert.Equal(t, CEcho, got[4].Command)

	assert.Equal(t, "TEST_SCP", transport.cfg.AETitle)
	assert.Contains(t, transport.cfg.SOPClasses, ModalityWorklistFindSOPClass)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, server.Shutdown(shutdownCtx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ContextCancelStopsServer(t *testing.T) {
	listener := newMemListener()
	server := &Server{AETitle: "TEST_SCP", Handler: testMux(t), Transport: &memTransport{listener: listener}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRegistry(t *testing.T) {
	name := "mem-registry-test"
	Register(name, &memTransport{listener: newMemListener()})
	t.Cleanup(func() {
		transportsMu.Lock()
		delete(transports, name)
		transportsMu.Unlock()
	})

	got, err := Lookup(name)
	require.NoError(t, err)
	assert.NotNil(t, got)

	assert.Panics(t, func() { Register(name, &memTransport{}) })

	_, err = Lookup("missing")
	assert.ErrorIs(t, err, ErrNoTransport)

	_, err = NewServer("missing", "AE", 104, NewServeMux())
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "0x0000 (Success)", StatusSuccess.String())
	assert.Equal(t, "0xA700", Status(0xA700).String())
	assert.True(t, StatusPending.IsPending())
	assert.False(t, StatusPending.IsFailure())
	assert.False(t, StatusSuccess.IsFailure())
	assert.True(t, StatusNoSuchSOPInstance.IsFailure())
}
