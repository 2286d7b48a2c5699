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
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("dimse: server closed")

// Server accepts associations for one application entity and serves each on
// its own goroutine. Requests within an association are handled in order.
type Server struct {
	AETitle   string
	Port      int
	Handler   *ServeMux
	Transport Transport

	mu       sync.Mutex
	listener Listener
	assocs   map[Association]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer returns a server for the entity using the named Transport.
func NewServer(transportName, aeTitle string, port int, mux *ServeMux) (*Server, error) {
	transport, err := Lookup(transportName)
	if err != nil {
		return nil, err
	}
	return &Server{AETitle: aeTitle, Port: port, Handler: mux, Transport: transport}, nil
}

// ListenAndServe opens a listener on the Transport and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := s.Transport.Listen(ctx, ListenConfig{
		AETitle:    s.AETitle,
		Port:       s.Port,
		SOPClasses: s.Handler.SOPClasses(),
	})
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts associations from l. Cancelling ctx shuts the server down.
func (s *Server) Serve(ctx context.Context, l Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })
	defer stop()

	logrus.WithFields(logrus.Fields{"ae_title": s.AETitle, "addr": l.Addr()}).Info("DIMSE server listening")

	for {
		assoc, err := l.Accept(ctx)
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithField("ae_title", s.AETitle).Errorf("accept failed: %v", err)
			return err
		}

		if !s.track(assoc) {
			_ = assoc.Close()
			return ErrServerClosed
		}
		go s.serveAssociation(ctx, assoc)
	}
}

func (s *Server) track(assoc Association) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.assocs == nil {
		s.assocs = make(map[Association]struct{})
	}
	s.assocs[assoc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(assoc Association) {
	s.mu.Lock()
	delete(s.assocs, assoc)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveAssociation(ctx context.Context, assoc Association) {
	defer s.untrack(assoc)
	defer assoc.Close()

	info := assoc.Info()
	logger := logrus.WithFields(logrus.Fields{
		"ae_title":    s.AETitle,
		"calling_aet": info.CallingAETitle,
		"remote_addr": info.RemoteAddr,
	})
	logger.Debug("association accepted")

	for {
		req, err := assoc.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				logger.Debug("association released")
			} else {
				logger.Warnf("association aborted: %v", err)
			}
			return
		}

		err = s.Handler.Serve(ctx, req, func(resp Response) error {
			return assoc.Respond(ctx, resp)
		})
		if err != nil {
			logger.WithField("command", req.Command().String()).Warnf("failed to send response: %v", err)
			return
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting, closes open associations and waits for their
// goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for assoc := range s.assocs {
		_ = assoc.Close()
	}
	s.mu.Unlock()

	if waitErr := s.wait(ctx); waitErr != nil {
		return waitErr
	}
	return err
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
