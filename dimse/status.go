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

import "fmt"

// Status is the 16-bit status word carried in every DIMSE response.
type Status uint16

const (
	StatusSuccess Status = 0x0000
	StatusPending Status = 0xFF00

	// StatusUnableToProcess is the generic failure for C-FIND and C-STORE.
	StatusUnableToProcess Status = 0xC000

	StatusInvalidAttributeValue Status = 0x0106
	StatusProcessingFailure     Status = 0x0110
	StatusDuplicateSOPInstance  Status = 0x0111
	StatusNoSuchSOPInstance     Status = 0x0112
	StatusMissingAttribute      Status = 0x0120

	StatusUnrecognizedOperation Status = 0x0211
)

var statusNames = map[Status]string{
	StatusSuccess:               "Success",
	StatusPending:               "Pending",
	StatusUnableToProcess:       "Unable to process",
	StatusInvalidAttributeValue: "Invalid attribute value",
	StatusProcessingFailure:     "Processing failure",
	StatusDuplicateSOPInstance:  "Duplicate SOP instance",
	StatusNoSuchSOPInstance:     "No such SOP instance",
	StatusMissingAttribute:      "Missing attribute",
	StatusUnrecognizedOperation: "Unrecognized operation",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("0x%04X (%s)", uint16(s), name)
	}
	return fmt.Sprintf("0x%04X", uint16(s))
}

// IsPending reports whether more responses follow for the same request.
func (s Status) IsPending() bool {
	return s == StatusPending || s == 0xFF01
}

// IsFailure reports whether the status terminates the request unsuccessfully.
func (s Status) IsFailure() bool {
	return s != StatusSuccess && !s.IsPending()
}
