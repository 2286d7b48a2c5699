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
	"io"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/screening-gateway/gateway/dimse"
)

const metaGroup = 0x0002

// Encode serializes ds as a Part 10 file: preamble, DICM prefix, file meta
// group and the data set. Missing meta attributes are derived from the SOP
// class and instance UIDs, and the transfer syntax defaults to explicit VR
// little endian.
func Encode(ds *dicom.Dataset) ([]byte, error) {
	out := dimse.Clone(ds)

	b := new(dimse.Builder)
	if !dimse.Has(out, tag.FileMetaInformationVersion) {
		b.Add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	}
	if !dimse.Has(out, tag.MediaStorageSOPClassUID) {
		b.AddString(tag.MediaStorageSOPClassUID, dimse.String(ds, tag.SOPClassUID))
	}
	if !dimse.Has(out, tag.MediaStorageSOPInstanceUID) {
		b.AddString(tag.MediaStorageSOPInstanceUID, dimse.String(ds, tag.SOPInstanceUID))
	}
	if dimse.String(out, tag.TransferSyntaxUID) == "" {
		b.AddString(tag.TransferSyntaxUID, dimse.ExplicitVRLittleEndian)
	}
	meta, err := b.Elements()
	if err != nil {
		return nil, err
	}
	for _, elem := range meta {
		dimse.Set(out, elem)
	}

	sortElements(out.Elements)

	var buf bytes.Buffer
	if err := writeDataset(&buf, out); err != nil {
		return nil, fmt.Errorf("writing dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// writeDataset turns a panic in the writer, raised on pixel frames that
// disagree in length, into an error.
func writeDataset(w io.Writer, ds *dicom.Dataset) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed dataset: %v", r)
		}
	}()
	return dicom.Write(w, *ds, dicom.SkipVRVerification())
}

// sortElements orders elements by tag with the meta group first, as the
// Part 10 layout requires.
func sortElements(elems []*dicom.Element) {
	sort.SliceStable(elems, func(i, j int) bool {
		a, b := elems[i].Tag, elems[j].Tag
		aMeta, bMeta := a.Group == metaGroup, b.Group == metaGroup
		if aMeta != bMeta {
			return aMeta
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
}

// Decode parses a Part 10 byte stream.
func Decode(data []byte) (*dicom.Dataset, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	return &ds, nil
}
