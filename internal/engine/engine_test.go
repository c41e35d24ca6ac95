package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"parkline/internal/config"
	"parkline/internal/db"
	"parkline/internal/engine"
	"parkline/internal/lot"
	"parkline/internal/migrate"
	"parkline/internal/repo"
	"parkline/internal/vehicle"
)

const testConfigYAML = `
lot: {id: lot-test}
levels:
  - id: 1
    spots: {car: 2, motorcycle: 1}
rates:
  billing_unit: 1h
  per_unit: {car: 2.0, motorcycle: 1.0}
`

type testEnv struct {
	engine  engine.Engine
	conn    *sql.DB
	cfg     *config.Config
	current time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	env := &testEnv{engine: e, conn: conn, cfg: cfg,
		current: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	env.engine.Lot.Now = func() time.Time { return env.current }
	env.engine.Now = func() time.Time { return env.current }
	return env
}

func (env *testEnv) advance(d time.Duration) { env.current = env.current.Add(d) }

func (env *testEnv) eventTypes(t *testing.T) []string {
	t.Helper()
	evts, err := env.engine.Repo.LatestEvents(context.Background(), 0, "", "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	return types
}

func hasEvent(types []string, want string) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}

func TestEnterPersistsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.engine.Enter(ctx, "car", "KA-01-HH-1234", "op-1")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if ticket.SpotID == "" || ticket.LevelID != 1 {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	s, err := env.engine.Repo.GetSession(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status != "active" || s.VehicleID != "KA-01-HH-1234" || s.SpotID != ticket.SpotID {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ExitTime != nil || s.AmountDue != nil {
		t.Fatalf("active session must have no exit fields: %+v", s)
	}
	if !hasEvent(env.eventTypes(t), "vehicle.entered") {
		t.Fatalf("missing vehicle.entered event")
	}
}

func TestExitClosesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.engine.Enter(ctx, "car", "v1", "op-1")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	env.advance(90 * time.Minute)
	rcpt, err := env.engine.Exit(ctx, ticket.ID, "op-1")
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if rcpt.AmountDue != 4 {
		t.Fatalf("amount due = %v, want 4", rcpt.AmountDue)
	}

	s, err := env.engine.Repo.GetSession(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status != "closed" {
		t.Fatalf("status = %s, want closed", s.Status)
	}
	if s.AmountDue == nil || *s.AmountDue != 4 {
		t.Fatalf("persisted amount = %v, want 4", s.AmountDue)
	}
	if s.DurationSeconds == nil || *s.DurationSeconds != 5400 {
		t.Fatalf("persisted duration = %v, want 5400", s.DurationSeconds)
	}
	if !hasEvent(env.eventTypes(t), "vehicle.exited") {
		t.Fatalf("missing vehicle.exited event")
	}

	if _, err := env.engine.Exit(ctx, ticket.ID, "op-1"); !errors.Is(err, lot.ErrInvalidTicket) {
		t.Fatalf("double exit: got %v, want ErrInvalidTicket", err)
	}
}

func TestLotFullRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Enter(ctx, "car", "v", "op-1"); err != nil {
			t.Fatalf("enter %d: %v", i, err)
		}
	}
	if _, err := env.engine.Enter(ctx, "car", "v", "op-1"); !errors.Is(err, lot.ErrLotFull) {
		t.Fatalf("expected ErrLotFull, got %v", err)
	}
	if !hasEvent(env.eventTypes(t), "lot.full") {
		t.Fatalf("missing lot.full event")
	}
	// The rejected vehicle must leave no session row behind.
	n, err := env.engine.Repo.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n["active"] != 2 {
		t.Fatalf("active sessions = %d, want 2", n["active"])
	}
}

func TestEnterUnknownVehicleType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Enter(context.Background(), "truck", "v1", "op-1")
	if !errors.Is(err, vehicle.ErrUnknownType) {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
	if len(env.eventTypes(t)) != 0 {
		t.Fatalf("rejected classification must not log events")
	}
}

func TestRestoreResumesActiveSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.engine.Enter(ctx, "car", "v1", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Enter(ctx, "motorcycle", "v2", "op-1"); err != nil {
		t.Fatal(err)
	}

	// A fresh engine on the same database models a restart.
	e2, err := engine.New(env.conn, env.cfg)
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := e2.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if resumed != 2 {
		t.Fatalf("resumed = %d, want 2", resumed)
	}
	occ := e2.Occupancy()[0]
	if occ.Occupied != 2 {
		t.Fatalf("occupied after restore = %d, want 2", occ.Occupied)
	}
	// A restored ticket exits normally.
	if _, err := e2.Exit(ctx, a.ID, "op-1"); err != nil {
		t.Fatalf("exit restored ticket: %v", err)
	}
}

func TestRestoreOrphansUnresumableSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.engine.Enter(ctx, "car", "v1", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a layout change: the recorded spot no longer exists.
	if _, err := env.conn.ExecContext(ctx, `UPDATE sessions SET spot_id='L9-C9' WHERE ticket_id=?`, a.ID); err != nil {
		t.Fatal(err)
	}

	e2, err := engine.New(env.conn, env.cfg)
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := e2.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if resumed != 0 {
		t.Fatalf("resumed = %d, want 0", resumed)
	}
	s, err := e2.Repo.GetSession(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "orphaned" {
		t.Fatalf("status = %s, want orphaned", s.Status)
	}
	if !hasEvent(env.eventTypes(t), "session.orphaned") {
		t.Fatalf("missing session.orphaned event")
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, secret, err := env.engine.CreateAPIKey(ctx, "op-1", "gate-terminal")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if secret == "" || key.KeyHash == secret {
		t.Fatalf("secret must be returned in clear and stored hashed")
	}
	got, err := env.engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if got.OperatorID != "op-1" || got.Name != "gate-terminal" {
		t.Fatalf("unexpected key %+v", got)
	}

	if _, _, err := env.engine.CreateAPIKey(ctx, "", "x"); err == nil {
		t.Fatalf("expected error for empty operator id")
	}
}
