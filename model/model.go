package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// UIDRoot is the ISO arc for UIDs derived from a UUID.
const UIDRoot = "2.25"

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// GenerateUID returns a globally unique DICOM UID of the form 2.25.<uuid as integer>.
// The result is at most 44 characters, inside the 64 character UID limit.
func GenerateUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return UIDRoot + "." + n.String()
}

// HashBytes returns the hex encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DicomDate formats t as a DICOM DA value (YYYYMMDD).
func DicomDate(t time.Time) string {
	return t.Format("20060102")
}

// DicomTime formats t as a DICOM TM value (HHMMSS).
func DicomTime(t time.Time) string {
	return t.Format("150405")
}
