package hissync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/events"
)

// -- Mock Repository --

type storedPayload struct {
	caseID   int64
	endpoint string
	payload  json.RawMessage
}

type mockRepo struct {
	byAN     map[string]int64
	records  map[int64]Record
	payloads []storedPayload
	failAN   string
}

func newMockRepo() *mockRepo {
	return &mockRepo{byAN: make(map[string]int64), records: make(map[int64]Record)}
}

func (m *mockRepo) UpsertCase(_ context.Context, r Record) (int64, error) {
	an := r.AN.String()
	if an == m.failAN {
		return 0, apperr.Store("upsert case", errors.New("connection reset"))
	}
	id, ok := m.byAN[an]
	if !ok {
		id = int64(len(m.byAN) + 1)
		m.byAN[an] = id
	}
	m.records[id] = r
	return id, nil
}

func (m *mockRepo) InsertPayload(_ context.Context, caseID int64, endpoint string, payload json.RawMessage) error {
	m.payloads = append(m.payloads, storedPayload{caseID, endpoint, payload})
	return nil
}

type fakeFetcher struct {
	body  string
	err   error
	query Query
}

func (f *fakeFetcher) FetchDischarges(_ context.Context, q Query) ([]byte, error) {
	f.query = q
	return []byte(f.body), f.err
}

func newTestService(f Fetcher) (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, db.PassThrough{}, f, nil, zerolog.Nop()), repo
}

func TestSync_UpsertsByAN(t *testing.T) {
	f := &fakeFetcher{body: `{"data":[
		{"HN":"1","AN":"A1","RIGHTCODE":"UC01"},
		{"HN":"2","AN":""},
		{"HN":"3","AN":"A3"},
		{"HN":"1","AN":"A1","RIGHTCODE":"UC02"}]}`}
	svc, repo := newTestService(f)

	res, err := svc.Sync(context.Background(), Query{DCSince: "2026-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 4 || res.Upserted != 3 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(repo.byAN) != 2 {
		t.Errorf("expected 2 distinct cases, got %d", len(repo.byAN))
	}
	if got := repo.records[repo.byAN["A1"]].RightCode.String(); got != "UC02" {
		t.Errorf("latest HIS values should win, got %q", got)
	}
	if len(repo.payloads) != 3 || repo.payloads[0].endpoint != EndpointDischarge {
		t.Errorf("unexpected payloads %+v", repo.payloads)
	}
	if f.query.DCSince != "2026-01-01" {
		t.Errorf("query not forwarded: %+v", f.query)
	}
}

func TestSync_FetchError(t *testing.T) {
	svc, repo := newTestService(&fakeFetcher{err: errors.New("HIS error 503")})
	if _, err := svc.Sync(context.Background(), Query{}); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.payloads) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestSync_NoFetcher(t *testing.T) {
	svc, _ := newTestService(nil)
	if _, err := svc.Sync(context.Background(), Query{}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSync_FailedRecordDoesNotStopBatch(t *testing.T) {
	svc, repo := newTestService(&fakeFetcher{body: `[{"HN":"1","AN":"BAD"},{"HN":"2","AN":"OK"}]`})
	repo.failAN = "BAD"
	res, err := svc.Sync(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Upserted != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandleMessage(t *testing.T) {
	svc, repo := newTestService(nil)
	msg := events.Message{Topic: "his-discharges", Value: []byte(`{"HN":"5","AN":"K1"}`)}
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if repo.byAN["K1"] == 0 || repo.payloads[0].endpoint != "kafka:his-discharges" {
		t.Errorf("message not ingested: %+v", repo.payloads)
	}

	repo.failAN = "K2"
	msg.Value = []byte(`[{"HN":"5","AN":"K2"}]`)
	if err := svc.HandleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for failed record")
	}
}

func TestImport_Parquet(t *testing.T) {
	name := "Somchai"
	rows := []ParquetRow{
		{HN: "1", AN: "P1", PatientName: &name},
		{HN: "2", AN: "P2"},
		{HN: "3", AN: ""},
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[ParquetRow](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	svc, repo := newTestService(nil)
	res, err := svc.Import(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), "parquet:test")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 3 || res.Upserted != 2 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := repo.records[repo.byAN["P1"]].PatientName.String(); got != name {
		t.Errorf("patient name = %q", got)
	}
}

func TestImport_NotParquet(t *testing.T) {
	svc, _ := newTestService(nil)
	body := []byte("definitely not parquet")
	if _, err := svc.Import(context.Background(), bytes.NewReader(body), int64(len(body)), "x"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
