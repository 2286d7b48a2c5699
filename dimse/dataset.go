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
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// NewDataset builds a dataset from already constructed elements.
func NewDataset(elems ...*dicom.Element) *dicom.Dataset {
	return &dicom.Dataset{Elements: elems}
}

// Has reports whether the element is present, regardless of its value.
func Has(ds *dicom.Dataset, t tag.Tag) bool {
	if ds == nil {
		return false
	}
	_, err := ds.FindElementByTag(t)
	return err == nil
}

// String returns the first string value of a top level element with padding
// trimmed, or "" when the element is absent or not a string.
func String(ds *dicom.Dataset, t tag.Tag) string {
	if ds == nil {
		return ""
	}
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
}

// Int returns the first integer value of a top level element.
func Int(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	if ds == nil {
		return 0, false
	}
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0, false
	}
	values, ok := elem.Value.GetValue().([]int)
	if !ok || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// SequenceItems returns the items of a sequence element as datasets. It
// returns nil when the element is absent or not a sequence.
func SequenceItems(ds *dicom.Dataset, t tag.Tag) []*dicom.Dataset {
	if ds == nil {
		return nil
	}
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil || elem.Value.ValueType() != dicom.Sequences {
		return nil
	}
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}

	out := make([]*dicom.Dataset, 0, len(items))
	for _, item := range items {
		elems, _ := item.GetValue().([]*dicom.Element)
		out = append(out, &dicom.Dataset{Elements: elems})
	}
	return out
}

// FirstSequenceItem returns the first item of a sequence element.
func FirstSequenceItem(ds *dicom.Dataset, t tag.Tag) (*dicom.Dataset, bool) {
	items := SequenceItems(ds, t)
	if len(items) == 0 {
		return nil, false
	}
	return items[0], true
}

// Set replaces the element with the same tag or appends elem.
func Set(ds *dicom.Dataset, elem *dicom.Element) {
	for i, existing := range ds.Elements {
		if existing.Tag == elem.Tag {
			ds.Elements[i] = elem
			return
		}
	}
	ds.Elements = append(ds.Elements, elem)
}

// SetString sets a single valued string element.
func SetString(ds *dicom.Dataset, t tag.Tag, value string) error {
	elem, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return fmt.Errorf("building element %s: %w", t, err)
	}
	Set(ds, elem)
	return nil
}

// SetInt sets a single valued integer element.
func SetInt(ds *dicom.Dataset, t tag.Tag, value int) error {
	elem, err := dicom.NewElement(t, []int{value})
	if err != nil {
		return fmt.Errorf("building element %s: %w", t, err)
	}
	Set(ds, elem)
	return nil
}

// Remove drops every element with the tag.
func Remove(ds *dicom.Dataset, t tag.Tag) {
	kept := ds.Elements[:0]
	for _, elem := range ds.Elements {
		if elem.Tag != t {
			kept = append(kept, elem)
		}
	}
	ds.Elements = kept
}

// Clone returns a dataset with its own element slice. Elements are shared.
func Clone(ds *dicom.Dataset) *dicom.Dataset {
	if ds == nil {
		return &dicom.Dataset{}
	}
	elems := make([]*dicom.Element, len(ds.Elements))
	copy(elems, ds.Elements)
	return &dicom.Dataset{Elements: elems}
}

// Builder accumulates elements and remembers the first construction error.
type Builder struct {
	elems []*dicom.Element
	err   error
}

// Add appends an element built from value. Values follow dicom.NewElement:
// []string, []int or [][]*dicom.Element for sequences.
func (b *Builder) Add(t tag.Tag, value interface{}) *Builder {
	if b.err != nil {
		return b
	}
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("building element %s: %w", t, err)
		return b
	}
	b.elems = append(b.elems, elem)
	return b
}

// AddString appends a single valued string element.
func (b *Builder) AddString(t tag.Tag, value string) *Builder {
	return b.Add(t, []string{value})
}

// AddStringIfPresent appends the element only when value is non-empty.
func (b *Builder) AddStringIfPresent(t tag.Tag, value string) *Builder {
	if value == "" {
		return b
	}
	return b.AddString(t, value)
}

// Elements returns the accumulated elements, for use as a sequence item.
func (b *Builder) Elements() ([]*dicom.Element, error) {
	return b.elems, b.err
}

// Dataset returns the accumulated elements as a dataset.
func (b *Builder) Dataset() (*dicom.Dataset, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &dicom.Dataset{Elements: b.elems}, nil
}
