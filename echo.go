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

	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/dimse"
)

// HandleEcho answers a verification request.
func (g *Gateway) HandleEcho(_ context.Context, req dimse.EchoRequest) dimse.Status {
	logrus.WithField("calling_aet", req.Association.CallingAETitle).Info("received C-ECHO request")
	g.metrics.ObserveDimse(dimse.CEcho.String(), dimse.StatusSuccess.String())
	return dimse.StatusSuccess
}
