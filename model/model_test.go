package model

import (
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	module := "relay"
	id := GenerateUUIDWithSuffix(module)
	assert.True(t, strings.HasPrefix(id, module+"_"))
}

func TestGenerateUID(t *testing.T) {
	uid := GenerateUID()
	assert.True(t, strings.HasPrefix(uid, "2.25."))
	assert.LessOrEqual(t, len(uid), 64)
	assert.NotEqual(t, uid, GenerateUID())
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae", HashBytes([]byte("foo")))
}

func TestDicomDateTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "20240102", DicomDate(ts))
	assert.Equal(t, "090507", DicomTime(ts))
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short"))
	long := strings.Repeat("x", MaxUploadErrorLength+20)
	assert.Len(t, TruncateError(long), MaxUploadErrorLength)
}

func TestWorklistItem_Validate(t *testing.T) {
	item := &WorklistItem{
		AccessionNumber:  "ACC123456",
		PatientID:        gofakeit.Numerify("##########"),
		PatientName:      strings.ToUpper(gofakeit.LastName() + "^" + gofakeit.FirstName()),
		PatientBirthDate: "19800101",
		PatientSex:       "f",
		ScheduledDate:    "20240101",
		ScheduledTime:    "090000",
		Modality:         "mg",
	}
	item.Normalize()
	require.NoError(t, item.Validate())
	assert.Equal(t, StatusScheduled, item.Status)
	assert.Equal(t, "MG", item.Modality)
	assert.Equal(t, "F", item.PatientSex)

	item.ScheduledTime = "9am"
	assert.Error(t, item.Validate())

	item.ScheduledTime = "090000"
	item.PatientSex = "X"
	assert.Error(t, item.Validate())

	item.PatientSex = ""
	item.AccessionNumber = ""
	assert.Error(t, item.Validate())
}

func TestWorklistItem_ValidateNew(t *testing.T) {
	item := &WorklistItem{
		AccessionNumber: "ACC123456",
		PatientID:       "999123456",
		PatientName:     "SMITH^JANE",
		ScheduledDate:   "20240315",
		ScheduledTime:   "093000",
		Modality:        "MG",
	}
	item.Normalize()
	require.NoError(t, item.ValidateNew())

	item.Status = StatusInProgress
	assert.NoError(t, item.Validate())
	assert.ErrorContains(t, item.ValidateNew(), "must be SCHEDULED")

	item.Status = StatusScheduled
	item.MPPSInstanceUID = "1.2.3"
	assert.ErrorContains(t, item.ValidateNew(), "only set by N-CREATE")
}

func TestWorklistStatus(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusDiscontinued.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusInProgress.Valid())
	assert.False(t, WorklistStatus("in progress").Valid())
}

func TestWorklistItemPayload_ToWorklistItem(t *testing.T) {
	var p WorklistItemPayload
	p.AccessionNumber = "ACC1"
	p.Participant.NHSNumber = "999123456"
	p.Participant.Name = "SMITH^JANE"
	p.Participant.BirthDate = "19800101"
	p.Participant.Sex = "F"
	p.Scheduled.Date = "20240101"
	p.Scheduled.Time = "090000"
	p.Procedure.Modality = "MG"
	p.Procedure.StudyDescription = "MAMMOGRAPHY"

	item := p.ToWorklistItem("action-1")
	assert.Equal(t, "ACC1", item.AccessionNumber)
	assert.Equal(t, "999123456", item.PatientID)
	assert.Equal(t, "SMITH^JANE", item.PatientName)
	assert.Equal(t, "MAMMOGRAPHY", item.StudyDescription)
	assert.Equal(t, "action-1", item.SourceMessageID)
	assert.Equal(t, StatusScheduled, item.Status)
}
