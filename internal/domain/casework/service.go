package casework

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/noosi159/Hospital1-backend/internal/domain/adjrw"
	"github.com/noosi159/Hospital1-backend/internal/domain/snapshot"
	"github.com/noosi159/Hospital1-backend/internal/domain/user"
	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/events"
	"github.com/noosi159/Hospital1-backend/internal/platform/metrics"
	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
)

const (
	tracerName = "casereview/casework"

	DefaultListLimit = 50
	MaxListLimit     = 200
)

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
}

// Ledger is the AdjRW ledger as seen by the workflow.
type Ledger interface {
	ApplyAdjrw(ctx context.Context, in adjrw.ApplyInput) (*adjrw.Result, error)
	GetLatestState(ctx context.Context, caseID int64) (*adjrw.LatestState, error)
}

type Snapshots interface {
	Append(ctx context.Context, caseID int64, role, action string, payload json.RawMessage, actorID int64) (int64, error)
	Latest(ctx context.Context, caseID int64, role, action string) (*snapshot.Snapshot, error)
	UpsertDraft(ctx context.Context, caseID int64, role string, payload json.RawMessage, userID int64) (*snapshot.Draft, error)
	GetDraft(ctx context.Context, caseID int64, role string) (*snapshot.Draft, error)
	DeleteDraft(ctx context.Context, caseID int64, role string) error
}

// Emitter records a case event in the transaction carried by ctx.
type Emitter interface {
	Emit(ctx context.Context, ev events.CaseEvent) error
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	users   UserLookup
	ledger  Ledger
	snaps   Snapshots
	events  Emitter
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, users UserLookup, ledger Ledger, snaps Snapshots, emitter Emitter, m *metrics.Metrics) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		repo:    repo,
		tx:      tx,
		users:   users,
		ledger:  ledger,
		snaps:   snaps,
		events:  emitter,
		metrics: m,
		now:     time.Now,
	}
}

// step is one guarded transition. check runs on the locked row before the
// transition table is consulted; apply performs the writes.
type step struct {
	event Event
	actor Actor
	check func(c *Case) error
	apply func(ctx context.Context, c *Case, to Status) error
	data  interface{}
}

// run locks the case row, validates the transition and applies it in one
// transaction. The case event is written to the outbox in the same
// transaction when the status changes.
func (s *Service) run(ctx context.Context, lock func(ctx context.Context) (*Case, error), st step) (*Transition, error) {
	ctx, span := tracing.Start(ctx, tracerName, "casework."+strings.ToLower(string(st.event)),
		attribute.String("case.event", string(st.event)),
		attribute.Int64("actor.id", st.actor.ID))

	var tr *Transition
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := lock(ctx)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return apperr.Conflict("case %d is inactive", c.ID)
		}
		if st.check != nil {
			if err := st.check(c); err != nil {
				return err
			}
		}
		to, err := Next(c.Status, st.event)
		if err != nil {
			return err
		}
		if err := st.apply(ctx, c, to); err != nil {
			return err
		}
		if to != c.Status {
			ev := events.CaseEvent{
				Type:       string(st.event),
				CaseID:     c.ID,
				AN:         c.AN,
				FromStatus: string(c.Status),
				ToStatus:   string(to),
				ActorID:    st.actor.ID,
			}
			if st.data != nil {
				raw, err := json.Marshal(st.data)
				if err != nil {
					return err
				}
				ev.Data = raw
			}
			if err := s.events.Emit(ctx, ev); err != nil {
				return err
			}
		}
		tr = &Transition{CaseID: c.ID, From: c.Status, Status: to}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(st.event), string(tr.Status))
	return tr, nil
}

func (s *Service) byID(id int64) func(ctx context.Context) (*Case, error) {
	return func(ctx context.Context) (*Case, error) { return s.repo.LockCase(ctx, id) }
}

func (s *Service) setStatus(ctx context.Context, c *Case, to Status) error {
	if to == c.Status {
		return nil
	}
	return s.repo.SetStatus(ctx, c.ID, to)
}

func ownsAuditor(a Actor) func(c *Case) error {
	return func(c *Case) error {
		if a.Role == auth.RoleAdmin {
			return nil
		}
		if c.AuditorID == nil || *c.AuditorID != a.ID {
			return apperr.Conflict("case %d is not assigned to you", c.ID)
		}
		return nil
	}
}

func ownsCoder(a Actor) func(c *Case) error {
	return func(c *Case) error {
		if a.Role == auth.RoleAdmin {
			return nil
		}
		if c.CoderID == nil || *c.CoderID != a.ID {
			return apperr.Conflict("case %d is not claimed by you", c.ID)
		}
		return nil
	}
}

func validCaseID(id int64) error {
	if id <= 0 {
		return apperr.Validation("case id is required")
	}
	return nil
}

// -- Auditor side --

// AssignAuditor hands a NEW or RETURNED case to an active auditor and records
// the assignment.
func (s *Service) AssignAuditor(ctx context.Context, in AssignInput, actor Actor) (*Transition, error) {
	in.AN = strings.TrimSpace(in.AN)
	if in.CaseID <= 0 && in.AN == "" {
		return nil, apperr.Validation("case_id or an is required")
	}
	if in.AuditorID <= 0 {
		return nil, apperr.Validation("auditor_id is required")
	}
	if in.AssignedAt != nil && in.DueAt != nil && in.DueAt.Before(*in.AssignedAt) {
		return nil, apperr.Validation("due_at must not be before assigned_at")
	}
	auditor, err := s.users.GetByID(ctx, in.AuditorID)
	if err != nil {
		return nil, err
	}
	if !auditor.IsActive || auditor.Role != auth.RoleAuditor {
		return nil, apperr.Validation("user %d is not an active auditor", in.AuditorID)
	}

	assignedAt := s.now().UTC()
	if in.AssignedAt != nil {
		assignedAt = *in.AssignedAt
	}
	lock := s.byID(in.CaseID)
	if in.CaseID <= 0 {
		lock = func(ctx context.Context) (*Case, error) { return s.repo.LockCaseByAN(ctx, in.AN) }
	}
	return s.run(ctx, lock, step{
		event: EventAssignAuditor,
		actor: actor,
		data:  map[string]interface{}{"auditor_id": in.AuditorID, "due_at": in.DueAt},
		apply: func(ctx context.Context, c *Case, to Status) error {
			if err := s.repo.AssignAuditor(ctx, c.ID, in.AuditorID, assignedAt, in.DueAt); err != nil {
				return err
			}
			return s.repo.InsertAssignment(ctx, &Assignment{
				CaseID:     c.ID,
				Role:       auth.RoleAuditor,
				AssignedTo: in.AuditorID,
				AssignedBy: actor.ID,
				AssignedAt: assignedAt,
				DueAt:      in.DueAt,
			})
		},
	})
}

// SaveAuditorDraft stores the auditor's in-progress form and moves the case
// to AUDITING.
func (s *Service) SaveAuditorDraft(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*snapshot.Draft, error) {
	return s.saveDraft(ctx, caseID, payload, actor, EventAuditorSave, snapshot.RoleAuditor, ownsAuditor(actor))
}

// SaveAuditorSnapshot persists the typed parts of the form and appends an
// AUDITOR/SAVE snapshot. Diagnoses are only replaced when the form carries
// them.
func (s *Service) SaveAuditorSnapshot(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*SaveResult, error) {
	return s.saveSnapshot(ctx, caseID, payload, actor, EventAuditorSave, snapshot.RoleAuditor, ownsAuditor(actor))
}

// UpdateCaseInfo writes the present case fields. Blank values clear them.
func (s *Service) UpdateCaseInfo(ctx context.Context, caseID int64, in CaseInfoInput, actor Actor) (*CaseInfo, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	var info *CaseInfo
	_, err := s.run(ctx, s.byID(caseID), step{
		event: EventAuditorSave,
		actor: actor,
		check: ownsAuditor(actor),
		apply: func(ctx context.Context, c *Case, to Status) error {
			var err error
			if info, err = s.repo.UpdateCaseInfo(ctx, c.ID, in.Columns()); err != nil {
				return err
			}
			return s.setStatus(ctx, c, to)
		},
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ReplaceDiagnoses swaps the whole diagnosis list of a case.
func (s *Service) ReplaceDiagnoses(ctx context.Context, caseID int64, in []DiagnosisInput, actor Actor) ([]*Diagnosis, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	rows, err := toDiagnoses(caseID, in)
	if err != nil {
		return nil, err
	}
	var out []*Diagnosis
	_, err = s.run(ctx, s.byID(caseID), step{
		event: EventAuditorSave,
		actor: actor,
		check: ownsAuditor(actor),
		apply: func(ctx context.Context, c *Case, to Status) error {
			if err := s.repo.ReplaceDiagnoses(ctx, c.ID, rows); err != nil {
				return err
			}
			var err error
			if out, err = s.repo.ListDiagnoses(ctx, c.ID); err != nil {
				return err
			}
			return s.setStatus(ctx, c, to)
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReturnCase gives an assigned case back to the admin pool. The auditor's
// active assignments are flagged RETURNED and the auditor is cleared.
func (s *Service) ReturnCase(ctx context.Context, caseID int64, actor Actor) (*Transition, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	return s.run(ctx, s.byID(caseID), step{
		event: EventReturn,
		actor: actor,
		check: ownsAuditor(actor),
		apply: func(ctx context.Context, c *Case, to Status) error {
			if _, err := s.repo.DeactivateAuditorAssignments(ctx, c.ID); err != nil {
				return err
			}
			return s.repo.ReturnCase(ctx, c.ID)
		},
	})
}

// ExportToCoder submits the auditor form. Case info and diagnoses are
// persisted, the ledger is written when the form carries adjrw, and the
// submitted payload is stored with the frozen ledger view.
func (s *Service) ExportToCoder(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*ExportResult, error) {
	return s.export(ctx, caseID, payload, actor, EventExportToCoder,
		snapshot.RoleAuditor, snapshot.ActionSubmitToCoder, ownsAuditor(actor))
}

// ConfirmCase closes a case the coder has sent back.
func (s *Service) ConfirmCase(ctx context.Context, caseID int64, actor Actor) (*Transition, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	return s.run(ctx, s.byID(caseID), step{
		event: EventConfirm,
		actor: actor,
		check: ownsAuditor(actor),
		apply: func(ctx context.Context, c *Case, to Status) error {
			return s.setStatus(ctx, c, to)
		},
	})
}

// -- Coder side --

// ClaimCase assigns an unclaimed SENT_TO_CODER case to the calling coder.
// Of two concurrent claims exactly one succeeds; the other gets a conflict.
func (s *Service) ClaimCase(ctx context.Context, caseID int64, actor Actor) (*Transition, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	if actor.ID <= 0 {
		return nil, apperr.Validation("coder id is required")
	}
	coder, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if !coder.IsActive || coder.Role != auth.RoleCoder {
		return nil, apperr.Validation("user %d is not an active coder", actor.ID)
	}

	tr, err := s.run(ctx, s.byID(caseID), step{
		event: EventClaim,
		actor: actor,
		check: func(c *Case) error {
			if c.CoderID != nil {
				return apperr.Conflict("case already claimed by another coder")
			}
			return nil
		},
		apply: func(ctx context.Context, c *Case, to Status) error {
			n, err := s.repo.ClaimCase(ctx, c.ID, actor.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return apperr.Conflict("case already claimed by another coder")
			}
			return nil
		},
	})
	if apperr.IsConflict(err) {
		s.metrics.ClaimConflict()
	}
	return tr, err
}

func (s *Service) SaveCoderDraft(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*snapshot.Draft, error) {
	return s.saveDraft(ctx, caseID, payload, actor, EventCoderSave, snapshot.RoleCoder, ownsCoder(actor))
}

func (s *Service) SaveCoderSnapshot(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*SaveResult, error) {
	return s.saveSnapshot(ctx, caseID, payload, actor, EventCoderSave, snapshot.RoleCoder, ownsCoder(actor))
}

// ExportToAuditor submits the coder form back to the auditor.
func (s *Service) ExportToAuditor(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor) (*ExportResult, error) {
	return s.export(ctx, caseID, payload, actor, EventExportToAuditor,
		snapshot.RoleCoder, snapshot.ActionSubmitToAuditor, ownsCoder(actor))
}

// -- Shared form steps --

type SaveResult struct {
	Transition
	SnapshotID int64 `json:"snapshot_id"`
}

type ExportResult struct {
	Transition
	SnapshotID int64              `json:"snapshot_id"`
	Adjrw      *adjrw.LatestState `json:"adjrw"`
}

func (s *Service) saveDraft(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor, ev Event, role string, check func(*Case) error) (*snapshot.Draft, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	var d *snapshot.Draft
	_, err := s.run(ctx, s.byID(caseID), step{
		event: ev,
		actor: actor,
		check: check,
		apply: func(ctx context.Context, c *Case, to Status) error {
			var err error
			if d, err = s.snaps.UpsertDraft(ctx, c.ID, role, payload, actor.ID); err != nil {
				return err
			}
			return s.setStatus(ctx, c, to)
		},
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) saveSnapshot(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor, ev Event, role string, check func(*Case) error) (*SaveResult, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	form, err := ParseForm(payload)
	if err != nil {
		return nil, err
	}
	rows, err := toDiagnoses(caseID, form.Diagnoses)
	if err != nil {
		return nil, err
	}
	var id int64
	tr, err := s.run(ctx, s.byID(caseID), step{
		event: ev,
		actor: actor,
		check: check,
		apply: func(ctx context.Context, c *Case, to Status) error {
			if err := s.persistForm(ctx, c.ID, form, rows, form.hasDiagnoses); err != nil {
				return err
			}
			var err error
			if id, err = s.snaps.Append(ctx, c.ID, role, snapshot.ActionSave, form.Raw(), actor.ID); err != nil {
				return err
			}
			return s.setStatus(ctx, c, to)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SaveResult{Transition: *tr, SnapshotID: id}, nil
}

func (s *Service) export(ctx context.Context, caseID int64, payload json.RawMessage, actor Actor, ev Event, role, action string, check func(*Case) error) (*ExportResult, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	form, err := ParseForm(payload)
	if err != nil {
		return nil, err
	}
	rows, err := toDiagnoses(caseID, form.Diagnoses)
	if err != nil {
		return nil, err
	}
	if _, err := form.Adjrw.Float("adjrw"); err != nil {
		return nil, err
	}
	if _, err := form.RW.Float("rw"); err != nil {
		return nil, err
	}

	res := &ExportResult{}
	tr, err := s.run(ctx, s.byID(caseID), step{
		event: ev,
		actor: actor,
		check: check,
		apply: func(ctx context.Context, c *Case, to Status) error {
			if err := s.persistForm(ctx, c.ID, form, rows, true); err != nil {
				return err
			}
			if form.Adjrw.Present && !form.Adjrw.Null {
				if _, err := s.ledger.ApplyAdjrw(ctx, adjrw.ApplyInput{
					CaseID:  c.ID,
					RW:      form.RW,
					Adjrw:   form.Adjrw,
					ActorID: actor.ID,
				}); err != nil {
					return err
				}
			}
			view, err := s.ledger.GetLatestState(ctx, c.ID)
			if err != nil {
				return err
			}
			enriched, err := snapshot.Enrich(form.Raw(), view)
			if err != nil {
				return err
			}
			if res.SnapshotID, err = s.snaps.Append(ctx, c.ID, role, action, enriched, actor.ID); err != nil {
				return err
			}
			res.Adjrw = view
			if err := s.setStatus(ctx, c, to); err != nil {
				return err
			}
			for _, r := range []string{snapshot.RoleAuditor, snapshot.RoleCoder} {
				if err := s.snaps.DeleteDraft(ctx, c.ID, r); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.Transition = *tr
	return res, nil
}

func (s *Service) persistForm(ctx context.Context, caseID int64, form *FormPayload, rows []*Diagnosis, replaceDiagnoses bool) error {
	if form.CaseInfo != nil {
		if _, err := s.repo.UpdateCaseInfo(ctx, caseID, form.CaseInfo.Columns()); err != nil {
			return err
		}
	}
	if replaceDiagnoses {
		for _, d := range rows {
			d.CaseID = caseID
		}
		return s.repo.ReplaceDiagnoses(ctx, caseID, rows)
	}
	return nil
}

// -- Reads --

func (s *Service) GetCase(ctx context.Context, id int64) (*CaseDetail, error) {
	if err := validCaseID(id); err != nil {
		return nil, err
	}
	return s.repo.GetCase(ctx, id)
}

// ListCases pages through cases newest first. Status "ALL" or "" lists every
// status.
func (s *Service) ListCases(ctx context.Context, f ListFilter) ([]*CaseSummary, int, error) {
	f.Status = strings.ToUpper(strings.TrimSpace(f.Status))
	if f.Status != "" && f.Status != "ALL" && !Status(f.Status).Valid() {
		return nil, 0, apperr.Validation("invalid status %q", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, total, err := s.repo.ListCases(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*CaseSummary{}
	}
	return items, total, nil
}

// CountByStatus reports every status, including the empty ones.
func (s *Service) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatusCount, 0, len(AllStatuses))
	for _, st := range AllStatuses {
		out = append(out, StatusCount{Status: st, Count: counts[st]})
	}
	return out, nil
}

func (s *Service) ListAvailableForCoder(ctx context.Context) ([]*CaseSummary, error) {
	items, err := s.repo.ListAvailableForCoder(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*CaseSummary{}
	}
	return items, nil
}

// Form is what one role opens: the case, the other role's latest submission
// and the reader's own draft.
type Form struct {
	Case      *CaseDetail        `json:"case"`
	Snapshot  *snapshot.Snapshot `json:"snapshot"`
	Diagnoses []*Diagnosis       `json:"diagnoses"`
	Draft     *snapshot.Draft    `json:"draft"`
}

// LoadCoderForm returns the latest auditor submission of a case.
func (s *Service) LoadCoderForm(ctx context.Context, caseID int64) (*Form, error) {
	return s.loadForm(ctx, caseID, snapshot.RoleAuditor, snapshot.ActionSubmitToCoder, snapshot.RoleCoder, "no auditor export found for case %d")
}

// LoadAuditorReview returns the latest coder submission of a case.
func (s *Service) LoadAuditorReview(ctx context.Context, caseID int64) (*Form, error) {
	return s.loadForm(ctx, caseID, snapshot.RoleCoder, snapshot.ActionSubmitToAuditor, snapshot.RoleAuditor, "no coder export found for case %d")
}

func (s *Service) loadForm(ctx context.Context, caseID int64, role, action, reader, missing string) (*Form, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snaps.Latest(ctx, caseID, role, action)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperr.NotFound(missing, caseID)
	}
	diags, err := s.repo.ListDiagnoses(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if diags == nil {
		diags = []*Diagnosis{}
	}
	draft, err := s.snaps.GetDraft(ctx, caseID, reader)
	if err != nil {
		return nil, err
	}
	return &Form{Case: c, Snapshot: snap, Diagnoses: diags, Draft: draft}, nil
}

// ListDiagnoses returns the case diagnoses ordered PDX, SDX, ODX, COMPLAINT.
func (s *Service) ListDiagnoses(ctx context.Context, caseID int64) ([]*Diagnosis, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListDiagnoses(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Diagnosis{}
	}
	return out, nil
}

// DeleteDiagnosis removes one diagnosis under the case lock with the same
// guard as an auditor save, and returns the case it belonged to.
func (s *Service) DeleteDiagnosis(ctx context.Context, id int64, actor Actor) (int64, error) {
	if id <= 0 {
		return 0, apperr.Validation("diagnosis id is required")
	}
	caseID, err := s.repo.DiagnosisCase(ctx, id)
	if err != nil {
		return 0, err
	}
	_, err = s.run(ctx, s.byID(caseID), step{
		event: EventAuditorSave,
		actor: actor,
		check: ownsAuditor(actor),
		apply: func(ctx context.Context, c *Case, to Status) error {
			if err := s.repo.DeleteDiagnosis(ctx, c.ID, id); err != nil {
				return err
			}
			return s.setStatus(ctx, c, to)
		},
	})
	if err != nil {
		return 0, err
	}
	return caseID, nil
}

func (s *Service) ListAssignments(ctx context.Context, caseID int64) ([]*Assignment, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListAssignments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Assignment{}
	}
	return out, nil
}

func (s *Service) GetDraft(ctx context.Context, caseID int64, role string) (*snapshot.Draft, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.snaps.GetDraft(ctx, caseID, role)
}

func (s *Service) DeleteDraft(ctx context.Context, caseID int64, role string) error {
	if err := validCaseID(caseID); err != nil {
		return err
	}
	return s.snaps.DeleteDraft(ctx, caseID, role)
}
