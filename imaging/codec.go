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

package imaging

import (
	"errors"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
)

// ErrNoCodec is returned by PassthroughCodec.
var ErrNoCodec = errors.New("no frame codec configured, pixel data left uncompressed")

// FrameCodec compresses the pixel data of a dataset into an encapsulated
// transfer syntax.
type FrameCodec interface {
	TransferSyntaxUID() string
	Encode(ds *dicom.Dataset) (*dicom.Dataset, error)
}

// PassthroughCodec performs no compression.
type PassthroughCodec struct{}

func (PassthroughCodec) TransferSyntaxUID() string { return dimse.ExplicitVRLittleEndian }

func (PassthroughCodec) Encode(*dicom.Dataset) (*dicom.Dataset, error) {
	return nil, ErrNoCodec
}

// CompressionStage runs a FrameCodec and records the resulting transfer syntax
// in the file meta group.
type CompressionStage struct {
	Codec FrameCodec
}

func NewCompressionStage(codec FrameCodec) *CompressionStage {
	if codec == nil {
		codec = PassthroughCodec{}
	}
	return &CompressionStage{Codec: codec}
}

func (c *CompressionStage) Name() string { return "compress" }

func (c *CompressionStage) Apply(ds *dicom.Dataset) (*dicom.Dataset, error) {
	if !dimse.Has(ds, tag.PixelData) {
		return ds, nil
	}
	out, err := c.Codec.Encode(ds)
	if err != nil {
		return nil, err
	}
	if err := dimse.SetString(out, tag.TransferSyntaxUID, c.Codec.TransferSyntaxUID()); err != nil {
		return nil, err
	}
	return out, nil
}
