package hissync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/events"
	"github.com/noosi159/Hospital1-backend/internal/platform/metrics"
	"github.com/noosi159/Hospital1-backend/internal/platform/tracing"
)

const (
	tracerName = "casereview/hissync"

	parquetBatch = 256
)

// Fetcher returns the raw body of a discharge query.
type Fetcher interface {
	FetchDischarges(ctx context.Context, q Query) ([]byte, error)
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, fetcher Fetcher, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, fetcher: fetcher, metrics: m, logger: logger}
}

// Sync pulls discharges from the HIS endpoint and upserts every record that
// carries both HN and AN.
func (s *Service) Sync(ctx context.Context, q Query) (*Result, error) {
	if s.fetcher == nil {
		return nil, apperr.Validation("HIS_BASE_URL is not set")
	}
	ctx, span := tracing.Start(ctx, tracerName, "his.sync",
		attribute.String("his.hn", q.HN), attribute.String("his.an", q.AN))
	body, err := s.fetcher.FetchDischarges(ctx, q)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	res, err := s.ingest(ctx, SourceHTTP, EndpointDischarge, splitRecords(body))
	tracing.End(span, err)
	return res, err
}

// HandleMessage ingests one Kafka feed message. The value may hold a single
// record, an array or a {"data": [...]} envelope.
func (s *Service) HandleMessage(ctx context.Context, msg events.Message) error {
	res, err := s.ingest(ctx, SourceKafka, "kafka:"+msg.Topic, splitRecords(msg.Value))
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d records failed at offset %d", res.Failed, res.Fetched, msg.Offset)
	}
	return nil
}

// ImportFile ingests a Parquet discharge export.
func (s *Service) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Validation("open %s: %v", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s.Import(ctx, f, stat.Size(), "parquet:"+filepath.Base(path))
}

// Import reads Parquet rows from r in batches.
func (s *Service) Import(ctx context.Context, r io.ReaderAt, size int64, endpoint string) (*Result, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, apperr.Validation("open parquet: %v", err)
	}
	reader := parquet.NewGenericReader[ParquetRow](pf)
	defer reader.Close()

	ctx, span := tracing.Start(ctx, tracerName, "his.import",
		attribute.String("his.endpoint", endpoint), attribute.Int64("his.rows", reader.NumRows()))

	total := &Result{}
	buf := make([]ParquetRow, parquetBatch)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			raws := make([]json.RawMessage, 0, n)
			for _, row := range buf[:n] {
				b, err := json.Marshal(row.Record())
				if err != nil {
					tracing.End(span, err)
					return nil, err
				}
				raws = append(raws, b)
			}
			res, err := s.ingest(ctx, SourceParquet, endpoint, raws)
			if err != nil {
				tracing.End(span, err)
				return nil, err
			}
			total.add(*res)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			err := fmt.Errorf("read parquet rows: %w", readErr)
			tracing.End(span, err)
			return nil, err
		}
	}
	tracing.End(span, nil)
	return total, nil
}

// ingest upserts each record in its own transaction so one bad row does not
// discard the batch. A cancelled context stops the run.
func (s *Service) ingest(ctx context.Context, source, endpoint string, raws []json.RawMessage) (*Result, error) {
	res := &Result{Fetched: len(raws)}
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || !rec.Valid() {
			res.Skipped++
			continue
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			id, err := s.repo.UpsertCase(ctx, rec)
			if err != nil {
				return err
			}
			return s.repo.InsertPayload(ctx, id, endpoint, raw)
		})
		if err != nil {
			res.Failed++
			s.logger.Error().Err(err).Str("source", source).Str("an", rec.AN.String()).
				Msg("HIS record ingest failed")
			continue
		}
		res.Upserted++
	}

	s.metrics.HISRecord(source, "upserted", res.Upserted)
	s.metrics.HISRecord(source, "skipped", res.Skipped)
	s.metrics.HISRecord(source, "failed", res.Failed)
	s.logger.Info().Str("source", source).Str("endpoint", endpoint).
		Int("fetched", res.Fetched).Int("upserted", res.Upserted).
		Int("skipped", res.Skipped).Int("failed", res.Failed).
		Msg("HIS records ingested")
	return res, nil
}
