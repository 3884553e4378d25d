package hissync

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

type Repository interface {
	// UpsertCase inserts a NEW case or refreshes the HIS fields of an existing
	// one, keyed by AN. Workflow columns are never touched.
	UpsertCase(ctx context.Context, r Record) (int64, error)
	InsertPayload(ctx context.Context, caseID int64, endpoint string, payload json.RawMessage) error
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) UpsertCase(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO cases (hn, an, patient_name, discharge_datetime, age_text, right_code, right_name,
			ward_code, ward_name, sex_code, sex_name, status, his_last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'NEW', NOW())
		ON CONFLICT (an) DO UPDATE SET
			hn = EXCLUDED.hn,
			patient_name = EXCLUDED.patient_name,
			discharge_datetime = EXCLUDED.discharge_datetime,
			age_text = EXCLUDED.age_text,
			right_code = EXCLUDED.right_code,
			right_name = EXCLUDED.right_name,
			ward_code = EXCLUDED.ward_code,
			ward_name = EXCLUDED.ward_name,
			sex_code = EXCLUDED.sex_code,
			sex_name = EXCLUDED.sex_name,
			his_last_sync_at = NOW(),
			updated_at = NOW()
		RETURNING id`,
		strings.TrimSpace(rec.HN.String()), strings.TrimSpace(rec.AN.String()),
		rec.PatientName.Ptr(), rec.DischargedAt(), rec.Age.Ptr(),
		rec.RightCode.Ptr(), rec.RightName.Ptr(),
		rec.WardCode.Ptr(), rec.WardName.Ptr(),
		rec.SexCode.Ptr(), rec.SexName.Ptr(),
	).Scan(&id)
	if err != nil {
		return 0, apperr.Store("upsert case", err)
	}
	return id, nil
}

func (r *repoPG) InsertPayload(ctx context.Context, caseID int64, endpoint string, payload json.RawMessage) error {
	_, err := db.Pick(ctx, r.pool).Exec(ctx,
		`INSERT INTO case_his_payload (case_id, endpoint, payload) VALUES ($1, $2, $3)`,
		caseID, endpoint, payload)
	return apperr.Store("store HIS payload", err)
}
