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

// Package dimse holds the service-level view of the DICOM message exchange:
// status words, SOP class identifiers, the decoded request types handed to
// application handlers and a server that drives associations produced by a
// pluggable Transport. Association negotiation and PDU coding live in the
// Transport implementation.
package dimse

import (
	"fmt"

	"github.com/suyashkumar/dicom"
)

// SOP class and transfer syntax UIDs used by the gateway.
const (
	VerificationSOPClass           = "1.2.840.10008.1.1"
	ModalityWorklistFindSOPClass   = "1.2.840.10008.5.1.4.31"
	ModalityPerformedProcedureStep = "1.2.840.10008.3.1.2.3.3"

	DigitalMammographyForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyForProcessing   = "1.2.840.10008.5.1.4.1.1.1.2.1"

	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// MammographyStorageClasses are the image storage classes the PACS accepts.
var MammographyStorageClasses = []string{
	DigitalMammographyForPresentation,
	DigitalMammographyForProcessing,
}

// Command identifies the DIMSE service of a request.
type Command int

const (
	CEcho Command = iota + 1
	CFind
	CStore
	NCreate
	NSet
)

func (c Command) String() string {
	switch c {
	case CEcho:
		return "C-ECHO"
	case CFind:
		return "C-FIND"
	case CStore:
		return "C-STORE"
	case NCreate:
		return "N-CREATE"
	case NSet:
		return "N-SET"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// AssociationInfo describes the peer of an association.
type AssociationInfo struct {
	CallingAETitle string
	CalledAETitle  string
	RemoteAddr     string
}

// Request is a decoded DIMSE request delivered by a Transport.
type Request interface {
	Command() Command
}

type EchoRequest struct {
	Association AssociationInfo
}

// FindRequest carries the C-FIND identifier. AffectedSOPClassUID selects the
// information model being queried.
type FindRequest struct {
	Association         AssociationInfo
	AffectedSOPClassUID string
	Identifier          *dicom.Dataset
}

// StoreRequest carries a received composite object. CallingAETitle is copied
// from the association for convenience.
type StoreRequest struct {
	Association    AssociationInfo
	CallingAETitle string
	Dataset        *dicom.Dataset
}

type NCreateRequest struct {
	Association            AssociationInfo
	AffectedSOPClassUID    string
	AffectedSOPInstanceUID string
	Attributes             *dicom.Dataset
}

type NSetRequest struct {
	Association             AssociationInfo
	RequestedSOPClassUID    string
	RequestedSOPInstanceUID string
	Attributes              *dicom.Dataset
}

func (EchoRequest) Command() Command    { return CEcho }
func (FindRequest) Command() Command    { return CFind }
func (StoreRequest) Command() Command   { return CStore }
func (NCreateRequest) Command() Command { return NCreate }
func (NSetRequest) Command() Command    { return NSet }

// Response is one response message. A C-FIND produces any number of Pending
// responses followed by exactly one final response.
type Response struct {
	Command Command
	Status  Status
	Dataset *dicom.Dataset
}
