package casework

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const caseCols = `c.id, c.an, c.hn, c.patient_name, c.discharge_datetime, c.sex_code, c.sex_name,
	c.age_text, c.ward_code, c.ward_name, c.right_code, c.right_name, c.status, c.auditor_id,
	c.coder_id, c.coder_claimed_at, c.received_date, c.due_date, c.note, c.is_active,
	c.his_last_sync_at, c.created_at, c.updated_at`

const summaryFrom = `FROM cases c
	LEFT JOIN users au ON au.id = c.auditor_id
	LEFT JOIN users cu ON cu.id = c.coder_id`

func caseDest(c *Case, status *string) []interface{} {
	return []interface{}{
		&c.ID, &c.AN, &c.HN, &c.PatientName, &c.DischargeDatetime, &c.SexCode, &c.SexName,
		&c.AgeText, &c.WardCode, &c.WardName, &c.RightCode, &c.RightName, status, &c.AuditorID,
		&c.CoderID, &c.CoderClaimedAt, &c.ReceivedDate, &c.DueDate, &c.Note, &c.IsActive,
		&c.HISLastSyncAt, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanCase(row pgx.Row) (*Case, error) {
	var (
		c      Case
		status string
	)
	if err := row.Scan(caseDest(&c, &status)...); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}

func scanSummary(row pgx.Row, extra ...interface{}) (*CaseSummary, error) {
	var (
		s      CaseSummary
		status string
	)
	dest := append(caseDest(&s.Case, &status), &s.AuditorName, &s.CoderName)
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return &s, nil
}

func (r *repoPG) lock(ctx context.Context, where string, arg interface{}, label string) (*Case, error) {
	c, err := scanCase(db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases c WHERE `+where+` FOR UPDATE`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("case %s not found", label)
	}
	if err != nil {
		return nil, apperr.Store("lock case", err)
	}
	return c, nil
}

func (r *repoPG) LockCase(ctx context.Context, id int64) (*Case, error) {
	return r.lock(ctx, "c.id = $1", id, fmt.Sprint(id))
}

func (r *repoPG) LockCaseByAN(ctx context.Context, an string) (*Case, error) {
	return r.lock(ctx, "c.an = $1", an, fmt.Sprintf("AN %s", an))
}

func (r *repoPG) GetCase(ctx context.Context, id int64) (*CaseDetail, error) {
	var d CaseDetail
	row := db.Pick(ctx, r.pool).QueryRow(ctx, `
		SELECT `+caseCols+`, au.full_name, cu.full_name, crw.rw, crw.adjrw
		`+summaryFrom+`
		LEFT JOIN case_rw crw ON crw.case_id = c.id
		WHERE c.id = $1`, id)
	s, err := scanSummary(row, &d.RW, &d.Adjrw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("case %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get case", err)
	}
	d.CaseSummary = *s
	return &d, nil
}

func (r *repoPG) ListCases(ctx context.Context, f ListFilter) ([]*CaseSummary, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" && f.Status != "ALL" {
		where = append(where, "c.status = "+arg(f.Status))
	}
	if f.AuditorID != nil {
		where = append(where, "c.auditor_id = "+arg(*f.AuditorID))
	}
	if f.CoderID != nil {
		where = append(where, "c.coder_id = "+arg(*f.CoderID))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Pick(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM cases c`+cond, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store("count cases", err)
	}

	limit := arg(f.Limit)
	offset := arg(f.Offset)
	rows, err := q.Query(ctx, `
		SELECT `+caseCols+`, au.full_name, cu.full_name
		`+summaryFrom+cond+`
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT `+limit+` OFFSET `+offset, args...)
	if err != nil {
		return nil, 0, apperr.Store("list cases", err)
	}
	defer rows.Close()
	var out []*CaseSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, apperr.Store("scan case", err)
		}
		out = append(out, s)
	}
	return out, total, apperr.Store("list cases", rows.Err())
}

func (r *repoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx,
		`SELECT status, COUNT(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, apperr.Store("count cases by status", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, apperr.Store("scan status count", err)
		}
		out[Status(s)] = n
	}
	return out, apperr.Store("count cases by status", rows.Err())
}

func (r *repoPG) ListAvailableForCoder(ctx context.Context) ([]*CaseSummary, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+caseCols+`, au.full_name, cu.full_name
		`+summaryFrom+`
		WHERE c.is_active AND c.status = $1 AND c.coder_id IS NULL
		ORDER BY c.updated_at ASC, c.id ASC`, string(StatusSentToCoder))
	if err != nil {
		return nil, apperr.Store("list available cases", err)
	}
	defer rows.Close()
	var out []*CaseSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, apperr.Store("scan case", err)
		}
		out = append(out, s)
	}
	return out, apperr.Store("list available cases", rows.Err())
}

func (r *repoPG) exec(ctx context.Context, label, sql string, args ...interface{}) (int64, error) {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return 0, apperr.Store(label, err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.exec(ctx, "set case status",
		`UPDATE cases SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (r *repoPG) AssignAuditor(ctx context.Context, id, auditorID int64, receivedAt time.Time, dueAt *time.Time) error {
	_, err := r.exec(ctx, "assign auditor", `
		UPDATE cases SET
			auditor_id = $2,
			status = $3,
			received_date = COALESCE(received_date, $4),
			due_date = $5,
			updated_at = NOW()
		WHERE id = $1`,
		id, auditorID, string(StatusAssignedAuditor), receivedAt, dueAt)
	return err
}

func (r *repoPG) InsertAssignment(ctx context.Context, a *Assignment) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO case_assignments (case_id, role, assigned_to, assigned_by, assigned_at, due_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, is_active, created_at`,
		a.CaseID, a.Role, a.AssignedTo, a.AssignedBy, a.AssignedAt, a.DueAt,
	).Scan(&a.ID, &a.IsActive, &a.CreatedAt)
	return apperr.Store("insert assignment", err)
}

func (r *repoPG) DeactivateAuditorAssignments(ctx context.Context, caseID int64) (int64, error) {
	return r.exec(ctx, "deactivate assignments", `
		UPDATE case_assignments SET is_active = FALSE, remark = 'RETURNED'
		WHERE case_id = $1 AND role = 'AUDITOR' AND is_active`, caseID)
}

func (r *repoPG) ReturnCase(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "return case",
		`UPDATE cases SET status = $2, auditor_id = NULL, updated_at = NOW() WHERE id = $1`,
		id, string(StatusReturned))
	return err
}

func (r *repoPG) ClaimCase(ctx context.Context, id, coderID int64) (int64, error) {
	return r.exec(ctx, "claim case", `
		UPDATE cases SET coder_id = $2, coder_claimed_at = NOW(), status = $3, updated_at = NOW()
		WHERE id = $1 AND coder_id IS NULL AND status = $4`,
		id, coderID, string(StatusCoderWorking), string(StatusSentToCoder))
}

var caseInfoColumns = map[string]bool{
	"sex_name": true, "age_text": true, "ward_name": true, "right_name": true, "right_code": true,
}

func (r *repoPG) UpdateCaseInfo(ctx context.Context, id int64, cols []Column) (*CaseInfo, error) {
	q := db.Pick(ctx, r.pool)
	if len(cols) > 0 {
		sets := make([]string, 0, len(cols)+1)
		args := []interface{}{id}
		for _, c := range cols {
			if !caseInfoColumns[c.Name] {
				return nil, apperr.Validation("unknown case field %q", c.Name)
			}
			args = append(args, c.Value)
			sets = append(sets, fmt.Sprintf("%s = $%d", c.Name, len(args)))
		}
		sets = append(sets, "updated_at = NOW()")
		if _, err := q.Exec(ctx, `UPDATE cases SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...); err != nil {
			return nil, apperr.Store("update case info", err)
		}
	}
	info := CaseInfo{CaseID: id}
	err := q.QueryRow(ctx,
		`SELECT sex_name, age_text, ward_name, right_name, right_code FROM cases WHERE id = $1`, id,
	).Scan(&info.Sex, &info.Age, &info.Ward, &info.Coverage, &info.CoverageCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("case %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("read case info", err)
	}
	return &info, nil
}

func (r *repoPG) ReplaceDiagnoses(ctx context.Context, caseID int64, rows []*Diagnosis) error {
	q := db.Pick(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM diagnoses WHERE case_id = $1`, caseID); err != nil {
		return apperr.Store("clear diagnoses", err)
	}
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range rows {
		batch.Queue(`
			INSERT INTO diagnoses (case_id, type, icd_incom, diagnosis, s_icd, doctor_note, r_icd, coder_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			caseID, d.Type, d.IcdIncom, d.Diagnosis, d.SIcd, d.DoctorNote, d.RIcd, d.CoderNote)
	}
	br := q.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return apperr.Store("insert diagnosis", err)
		}
	}
	return apperr.Store("insert diagnoses", br.Close())
}

func (r *repoPG) ListDiagnoses(ctx context.Context, caseID int64) ([]*Diagnosis, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, type, icd_incom, diagnosis, s_icd, doctor_note, r_icd, coder_note
		FROM diagnoses
		WHERE case_id = $1
		ORDER BY CASE type WHEN 'PDX' THEN 1 WHEN 'SDX' THEN 2 WHEN 'ODX' THEN 3 ELSE 4 END, id`, caseID)
	if err != nil {
		return nil, apperr.Store("list diagnoses", err)
	}
	defer rows.Close()
	var out []*Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Type, &d.IcdIncom, &d.Diagnosis, &d.SIcd,
			&d.DoctorNote, &d.RIcd, &d.CoderNote); err != nil {
			return nil, apperr.Store("scan diagnosis", err)
		}
		out = append(out, &d)
	}
	return out, apperr.Store("list diagnoses", rows.Err())
}

func (r *repoPG) DiagnosisCase(ctx context.Context, id int64) (int64, error) {
	var caseID int64
	err := db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT case_id FROM diagnoses WHERE id = $1`, id).Scan(&caseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("diagnosis %d not found", id)
	}
	if err != nil {
		return 0, apperr.Store("get diagnosis", err)
	}
	return caseID, nil
}

func (r *repoPG) DeleteDiagnosis(ctx context.Context, caseID, id int64) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`DELETE FROM diagnoses WHERE id = $1 AND case_id = $2`, id, caseID)
	if err != nil {
		return apperr.Store("delete diagnosis", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("diagnosis %d not found", id)
	}
	return nil
}

func (r *repoPG) ListAssignments(ctx context.Context, caseID int64) ([]*Assignment, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, role, assigned_to, assigned_by, assigned_at, due_at, is_active, remark, created_at
		FROM case_assignments
		WHERE case_id = $1
		ORDER BY assigned_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, apperr.Store("list assignments", err)
	}
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Role, &a.AssignedTo, &a.AssignedBy, &a.AssignedAt,
			&a.DueAt, &a.IsActive, &a.Remark, &a.CreatedAt); err != nil {
			return nil, apperr.Store("scan assignment", err)
		}
		out = append(out, &a)
	}
	return out, apperr.Store("list assignments", rows.Err())
}
