package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noosi159/Hospital1-backend/internal/domain/adjrw"
	"github.com/noosi159/Hospital1-backend/internal/domain/casework"
	"github.com/noosi159/Hospital1-backend/internal/domain/coverage"
	"github.com/noosi159/Hospital1-backend/internal/domain/snapshot"
	"github.com/noosi159/Hospital1-backend/internal/domain/user"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
	"github.com/noosi159/Hospital1-backend/internal/platform/events"
	"github.com/noosi159/Hospital1-backend/migrations"
)

const (
	testPort     = 15433
	testDB       = "casereview_test"
	testUser     = "postgres"
	testPassword = "postgres"
	testTopic    = "case-events"
)

var (
	testDSN string
	pg      *embeddedpostgres.EmbeddedPostgres
	pool    *pgxpool.Pool
)

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		fmt.Fprintln(os.Stderr, "SKIP: SKIP_INTEGRATION is set")
		os.Exit(0)
	}

	testDSN = fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDB)

	pg = embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			StartTimeout(30 * time.Second),
	)
	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := run(m)

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.Exit(code)
}

func run(m *testing.M) int {
	ctx := context.Background()
	var err error
	pool, err = db.NewPool(ctx, testDSN, 10, 1, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, "public"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return m.Run()
}

// app is the domain layer wired against the test database.
type app struct {
	coverage *coverage.Service
	ledger   *adjrw.Service
	snaps    *snapshot.Service
	users    *user.Service
	cases    *casework.Service

	admin, auditor, coder, coder2 casework.Actor
}

// newApp truncates every table and wires fresh services. emitter may be nil
// to use the transactional outbox.
func newApp(t *testing.T, emitter casework.Emitter) *app {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `TRUNCATE case_events_outbox, case_his_payload, case_drafts,
		case_form_snapshots, case_adjrw_history, case_rw, coverage_rates, coverage_prefix_mapping,
		diagnoses, case_assignments, cases, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}

	txm := db.NewTxManager(pool)
	a := &app{}
	a.coverage = coverage.NewService(coverage.NewRepo(pool), txm)
	a.ledger = adjrw.NewService(adjrw.NewRepo(pool), a.coverage, txm, nil)
	a.snaps = snapshot.NewService(snapshot.NewRepo(pool))
	a.users = user.NewService(user.NewRepo(pool), auth.JWTConfig{SigningKey: []byte("test"), TTL: time.Hour}, zerolog.Nop())
	if emitter == nil {
		emitter = events.NewOutbox(pool, testTopic)
	}
	a.cases = casework.NewService(casework.NewRepo(pool), txm, a.users, a.ledger, a.snaps, emitter, nil)

	a.admin = a.mkUser(t, "admin", auth.RoleAdmin)
	a.auditor = a.mkUser(t, "auditor", auth.RoleAuditor)
	a.coder = a.mkUser(t, "coder", auth.RoleCoder)
	a.coder2 = a.mkUser(t, "coder2", auth.RoleCoder)
	return a
}

func (a *app) mkUser(t *testing.T, name, role string) casework.Actor {
	t.Helper()
	u, err := a.users.Create(context.Background(), user.CreateInput{
		Username: name, Password: "secret-pw", FullName: name, Role: role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return casework.Actor{ID: u.ID, Role: u.Role}
}

// mkCase inserts a NEW case with the given right code.
func mkCase(t *testing.T, an, rightCode string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO cases (an, hn, patient_name, right_code, right_name)
		VALUES ($1, 'HN-'||$1, 'Patient '||$1, $2, $2) RETURNING id`, an, rightCode).Scan(&id)
	if err != nil {
		t.Fatalf("insert case: %v", err)
	}
	return id
}

func count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func statusOf(t *testing.T, caseID int64) casework.Status {
	t.Helper()
	var s string
	if err := pool.QueryRow(context.Background(), `SELECT status FROM cases WHERE id = $1`, caseID).Scan(&s); err != nil {
		t.Fatalf("status: %v", err)
	}
	return casework.Status(s)
}

// sendToCoder assigns the auditor and exports with the given body.
func (a *app) sendToCoder(t *testing.T, caseID int64, body string) *casework.ExportResult {
	t.Helper()
	ctx := context.Background()
	if _, err := a.cases.AssignAuditor(ctx, casework.AssignInput{CaseID: caseID, AuditorID: a.auditor.ID}, a.admin); err != nil {
		t.Fatalf("assign: %v", err)
	}
	res, err := a.cases.ExportToCoder(ctx, caseID, []byte(body), a.auditor)
	if err != nil {
		t.Fatalf("export to coder: %v", err)
	}
	return res
}

func jsonInto(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
