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
	"bytes"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
)

const (
	preambleLength = 128
	magic          = "DICM"
)

// ValidationError describes why an object was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

var requiredTags = []struct {
	name string
	tag  tag.Tag
}{
	{"SOPInstanceUID", tag.SOPInstanceUID},
	{"PatientID", tag.PatientID},
	{"StudyInstanceUID", tag.StudyInstanceUID},
	{"SOPClassUID", tag.SOPClassUID},
}

var pixelTags = []struct {
	name string
	tag  tag.Tag
}{
	{"Rows", tag.Rows},
	{"Columns", tag.Columns},
	{"BitsAllocated", tag.BitsAllocated},
}

// ValidateDataset checks that the identifying attributes are present and that
// an image carrying pixel data also describes its geometry.
func ValidateDataset(ds *dicom.Dataset) error {
	if ds == nil {
		return invalid("dataset is empty")
	}
	for _, rt := range requiredTags {
		if dimse.String(ds, rt.tag) == "" {
			return invalid("Missing required tag: %s", rt.name)
		}
	}

	if !dimse.Has(ds, tag.PixelData) {
		return nil
	}
	for _, pt := range pixelTags {
		if !dimse.Has(ds, pt.tag) {
			return invalid("Image has PixelData but missing %s", pt.name)
		}
	}
	return nil
}

// ValidateBytes checks the serialized form carries the 128 byte preamble
// followed by the DICM prefix.
func ValidateBytes(data []byte) error {
	minSize := preambleLength + len(magic)
	if len(data) < minSize {
		return invalid("DICOM too small (%d bytes), missing preamble", len(data))
	}
	prefix := data[preambleLength:minSize]
	if !bytes.Equal(prefix, []byte(magic)) {
		return invalid("Invalid DICOM prefix: %q, expected %q", prefix, magic)
	}
	return nil
}
