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
	"fmt"
	"sort"
	"sync"
)

// ErrNoTransport is returned when no Transport is registered under a name.
var ErrNoTransport = errors.New("dimse: no transport registered")

// ListenConfig describes the application entity a Transport should accept
// associations for.
type ListenConfig struct {
	AETitle string
	Port    int

	// SOPClasses are the abstract syntaxes the entity accepts as SCP.
	SOPClasses []string
}

// Association is one negotiated association. Next delivers decoded requests
// in arrival order and returns io.EOF once the peer releases the association.
// Respond sends one response for the request last returned by Next.
type Association interface {
	Info() AssociationInfo
	Next(ctx context.Context) (Request, error)
	Respond(ctx context.Context, resp Response) error
	Close() error
}

// Listener accepts associations.
type Listener interface {
	Accept(ctx context.Context) (Association, error)
	Close() error
	Addr() string
}

// Transport opens listeners. Implementations own association negotiation and
// PDU coding.
type Transport interface {
	Listen(ctx context.Context, cfg ListenConfig) (Listener, error)
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]Transport{}
)

// Register makes a Transport available under name. It panics when name is
// registered twice, mirroring database/sql drivers.
func Register(name string, t Transport) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if t == nil {
		panic("dimse: Register transport is nil")
	}
	if _, dup := transports[name]; dup {
		panic("dimse: Register called twice for transport " + name)
	}
	transports[name] = t
}

// Lookup returns the Transport registered under name.
func Lookup(name string) (Transport, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrNoTransport, name, transportNames())
	}
	return t, nil
}

func transportNames() []string {
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
