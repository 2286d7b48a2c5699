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

	"github.com/suyashkumar/dicom"

	"github.com/screening-gateway/gateway/database"
	"github.com/screening-gateway/gateway/dimse"
	"github.com/screening-gateway/gateway/imaging"
	"github.com/screening-gateway/gateway/internal/metrics"
	"github.com/screening-gateway/gateway/model"
)

// tracerName scopes the spans started by the gateway handlers.
const tracerName = "screening-gateway"

// Gateway holds the protocol handlers shared by the worklist service, the
// image store and the action transports.
type Gateway struct {
	worklist  database.IWorklistStore
	instances database.IInstanceStore
	pipeline  *imaging.Pipeline
	metrics   *metrics.Metrics
	actions   map[string]ActionHandler
}

type Option func(*Gateway)

// WithInstanceStore sets the store received images are written to.
func WithInstanceStore(store database.IInstanceStore) Option {
	return func(g *Gateway) { g.instances = store }
}

// WithPipeline replaces the default image transform pipeline.
func WithPipeline(p *imaging.Pipeline) Option {
	return func(g *Gateway) { g.pipeline = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway builds a Gateway on the worklist store. The instance store is
// only needed by the image store service.
func NewGateway(worklist database.IWorklistStore, opts ...Option) *Gateway {
	g := &Gateway{
		worklist: worklist,
		pipeline: imaging.NewPipeline(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.actions = map[string]ActionHandler{}
	g.RegisterAction(model.ActionCreateWorklistItem, g.createWorklistItem)
	return g
}

// RegisterMWL wires the worklist and procedure step handlers into mux.
func (g *Gateway) RegisterMWL(mux *dimse.ServeMux) {
	mux.HandleEcho(g.HandleEcho)
	mux.HandleFind(func(ctx context.Context, req dimse.FindRequest) iter.Seq2[dimse.Status, *dicom.Dataset] {
		return g.HandleFind(ctx, req.Identifier)
	})
	mux.HandleNCreate(g.HandleNCreate)
	mux.HandleNSet(g.HandleNSet)
}

// RegisterPACS wires the verification and mammography storage handlers into mux.
func (g *Gateway) RegisterPACS(mux *dimse.ServeMux) {
	mux.HandleEcho(g.HandleEcho)
	mux.HandleStore(g.HandleStore, dimse.MammographyStorageClasses...)
}
