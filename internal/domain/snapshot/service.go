package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Append stores a new snapshot and returns its id. Snapshots are never
// updated.
func (s *Service) Append(ctx context.Context, caseID int64, role, action string, payload json.RawMessage, actorID int64) (int64, error) {
	role, action = strings.ToUpper(role), strings.ToUpper(action)
	if !validRoles[role] {
		return 0, apperr.Validation("invalid role %q", role)
	}
	if !validActions[action] {
		return 0, apperr.Validation("invalid action %q", action)
	}
	body, err := objectPayload(payload)
	if err != nil {
		return 0, err
	}
	snap := &Snapshot{CaseID: caseID, Role: role, Action: action, Payload: body, CreatedBy: actor(actorID)}
	if err := s.repo.Insert(ctx, snap); err != nil {
		return 0, err
	}
	return snap.ID, nil
}

// Latest returns the newest snapshot for case/role/action, or nil.
func (s *Service) Latest(ctx context.Context, caseID int64, role, action string) (*Snapshot, error) {
	return s.repo.Latest(ctx, caseID, strings.ToUpper(role), strings.ToUpper(action))
}

// History lists a case's snapshots newest first.
func (s *Service) History(ctx context.Context, caseID int64, f Filter) ([]*Snapshot, error) {
	f.Role, f.Action = strings.ToUpper(strings.TrimSpace(f.Role)), strings.ToUpper(strings.TrimSpace(f.Action))
	if f.Role != "" && !validRoles[f.Role] {
		return nil, apperr.Validation("invalid role %q", f.Role)
	}
	if f.Action != "" && !validActions[f.Action] {
		return nil, apperr.Validation("invalid action %q", f.Action)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	ok, err := s.repo.CaseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("case %d not found", caseID)
	}
	return s.repo.List(ctx, caseID, f)
}

func (s *Service) Get(ctx context.Context, id int64) (*Snapshot, error) {
	return s.repo.Get(ctx, id)
}

// -- Drafts --

// UpsertDraft replaces the draft of role on a case and bumps its version.
func (s *Service) UpsertDraft(ctx context.Context, caseID int64, role string, payload json.RawMessage, userID int64) (*Draft, error) {
	role = strings.ToUpper(role)
	if !validRoles[role] {
		return nil, apperr.Validation("invalid role %q", role)
	}
	body, err := objectPayload(payload)
	if err != nil {
		return nil, err
	}
	d := &Draft{CaseID: caseID, Role: role, UserID: actor(userID), Payload: body}
	if err := s.repo.UpsertDraft(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDraft returns nil when the role has no draft.
func (s *Service) GetDraft(ctx context.Context, caseID int64, role string) (*Draft, error) {
	return s.repo.GetDraft(ctx, caseID, strings.ToUpper(role))
}

func (s *Service) DeleteDraft(ctx context.Context, caseID int64, role string) error {
	return s.repo.DeleteDraft(ctx, caseID, strings.ToUpper(role))
}

// Enrich returns payload with view stored under EnrichKey. The payload must
// be a JSON object; an empty payload is treated as {}.
func Enrich(payload json.RawMessage, view interface{}) (json.RawMessage, error) {
	body, err := objectPayload(payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apperr.Validation("payload must be a JSON object")
	}
	v, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	fields[EnrichKey] = v
	return json.Marshal(fields)
}

func objectPayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, apperr.Validation("payload must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

func actor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
