package casework

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

// Case is one discharge record under review.
type Case struct {
	ID                int64      `json:"id"`
	AN                string     `json:"an"`
	HN                string     `json:"hn"`
	PatientName       *string    `json:"patient_name"`
	DischargeDatetime *time.Time `json:"discharge_datetime"`
	SexCode           *string    `json:"sex_code"`
	SexName           *string    `json:"sex_name"`
	AgeText           *string    `json:"age_text"`
	WardCode          *string    `json:"ward_code"`
	WardName          *string    `json:"ward_name"`
	RightCode         *string    `json:"right_code"`
	RightName         *string    `json:"right_name"`
	Status            Status     `json:"status"`
	AuditorID         *int64     `json:"auditor_id"`
	CoderID           *int64     `json:"coder_id"`
	CoderClaimedAt    *time.Time `json:"coder_claimed_at"`
	ReceivedDate      *time.Time `json:"received_date"`
	DueDate           *time.Time `json:"due_date"`
	Note              *string    `json:"note"`
	IsActive          bool       `json:"is_active"`
	HISLastSyncAt     *time.Time `json:"his_last_sync_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CaseSummary is a list row with the names of the people holding the case.
type CaseSummary struct {
	Case
	AuditorName *string `json:"auditor_name"`
	CoderName   *string `json:"coder_name"`
}

// CaseDetail is the case plus its current ledger values.
type CaseDetail struct {
	CaseSummary
	RW    *float64 `json:"rw"`
	Adjrw *float64 `json:"adjrw"`
}

type ListFilter struct {
	// Status "" or "ALL" lists every status.
	Status    string
	AuditorID *int64
	CoderID   *int64
	Limit     int
	Offset    int
}

type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

const (
	DiagPDX       = "PDX"
	DiagSDX       = "SDX"
	DiagODX       = "ODX"
	DiagComplaint = "COMPLAINT"
)

var diagTypes = map[string]bool{DiagPDX: true, DiagSDX: true, DiagODX: true, DiagComplaint: true}

type Diagnosis struct {
	ID         int64   `json:"id"`
	CaseID     int64   `json:"case_id"`
	Type       string  `json:"type"`
	IcdIncom   *string `json:"icd_incom"`
	Diagnosis  *string `json:"diagnosis"`
	SIcd       *string `json:"s_icd"`
	DoctorNote *string `json:"doctor_note"`
	RIcd       *string `json:"r_icd"`
	CoderNote  *string `json:"coder_note"`
}

// DiagnosisInput is one row of a submitted form. Type defaults to ODX.
type DiagnosisInput struct {
	Type       string         `json:"type"`
	IcdIncom   normalize.Text `json:"icd_incom"`
	Diagnosis  normalize.Text `json:"diagnosis"`
	SIcd       normalize.Text `json:"s_icd"`
	DoctorNote normalize.Text `json:"doctor_note"`
	RIcd       normalize.Text `json:"r_icd"`
	CoderNote  normalize.Text `json:"coder_note"`
}

func (in DiagnosisInput) toDiagnosis(caseID int64) (*Diagnosis, error) {
	t := strings.ToUpper(strings.TrimSpace(in.Type))
	if t == "" {
		t = DiagODX
	}
	if !diagTypes[t] {
		return nil, apperr.Validation("invalid diagnosis type %q", in.Type)
	}
	return &Diagnosis{
		CaseID:     caseID,
		Type:       t,
		IcdIncom:   in.IcdIncom.Ptr(),
		Diagnosis:  in.Diagnosis.Ptr(),
		SIcd:       in.SIcd.Ptr(),
		DoctorNote: in.DoctorNote.Ptr(),
		RIcd:       in.RIcd.Ptr(),
		CoderNote:  in.CoderNote.Ptr(),
	}, nil
}

func toDiagnoses(caseID int64, in []DiagnosisInput) ([]*Diagnosis, error) {
	out := make([]*Diagnosis, 0, len(in))
	for i, d := range in {
		row, err := d.toDiagnosis(caseID)
		if err != nil {
			return nil, apperr.Validation("diagnoses[%d]: %s", i, apperr.PublicMessage(err))
		}
		out = append(out, row)
	}
	return out, nil
}

// CaseInfoInput is a partial update of the editable case fields. Only present
// fields are written; blank values become null.
type CaseInfoInput struct {
	Sex          normalize.Text `json:"sex"`
	Age          normalize.Text `json:"age"`
	Ward         normalize.Text `json:"ward"`
	Coverage     normalize.Text `json:"coverage"`
	CoverageCode normalize.Text `json:"coverage_code"`
}

// Columns returns the cases columns to set, in a stable order.
func (in CaseInfoInput) Columns() []Column {
	var cols []Column
	add := func(name string, t normalize.Text) {
		if t.Present {
			cols = append(cols, Column{Name: name, Value: t.Ptr()})
		}
	}
	add("sex_name", in.Sex)
	add("age_text", in.Age)
	add("ward_name", in.Ward)
	add("right_name", in.Coverage)
	add("right_code", in.CoverageCode)
	return cols
}

type Column struct {
	Name  string
	Value *string
}

// CaseInfo is the editable part of a case as returned after an update.
type CaseInfo struct {
	CaseID       int64   `json:"case_id"`
	Sex          *string `json:"sex"`
	Age          *string `json:"age"`
	Ward         *string `json:"ward"`
	Coverage     *string `json:"coverage"`
	CoverageCode *string `json:"coverage_code"`
}

// FormPayload is the typed part of a submitted auditor or coder form. The
// raw body is kept as the snapshot payload.
type FormPayload struct {
	CaseInfo  *CaseInfoInput   `json:"case_info"`
	Diagnoses []DiagnosisInput `json:"diagnoses"`
	RW        normalize.Number `json:"rw"`
	Adjrw     normalize.Number `json:"adjrw"`

	raw          json.RawMessage
	hasDiagnoses bool
}

// ParseForm decodes body into a FormPayload. An empty body is an empty form.
func ParseForm(body json.RawMessage) (*FormPayload, error) {
	f := &FormPayload{raw: body}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		f.raw = json.RawMessage("{}")
		return f, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, apperr.Validation("form payload must be a JSON object")
	}
	if err := json.Unmarshal(body, f); err != nil {
		return nil, apperr.Validation("invalid form payload: %v", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err == nil {
		_, f.hasDiagnoses = keys["diagnoses"]
	}
	return f, nil
}

// Raw returns the payload as it was submitted.
func (f *FormPayload) Raw() json.RawMessage { return f.raw }

type Assignment struct {
	ID         int64      `json:"id"`
	CaseID     int64      `json:"case_id"`
	Role       string     `json:"role"`
	AssignedTo int64      `json:"assigned_to"`
	AssignedBy int64      `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	DueAt      *time.Time `json:"due_at"`
	IsActive   bool       `json:"is_active"`
	Remark     *string    `json:"remark"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AssignInput names the case by id or by AN.
type AssignInput struct {
	CaseID     int64      `json:"case_id"`
	AN         string     `json:"an"`
	AuditorID  int64      `json:"auditor_id"`
	AssignedAt *time.Time `json:"assigned_at"`
	DueAt      *time.Time `json:"due_at"`
}

// Actor is the user performing an operation.
type Actor struct {
	ID   int64
	Role string
}

// Transition reports the outcome of a state-changing operation.
type Transition struct {
	CaseID int64  `json:"case_id"`
	From   Status `json:"from"`
	Status Status `json:"status"`
}
