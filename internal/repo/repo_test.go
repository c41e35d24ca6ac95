package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"parkline/internal/db"
	"parkline/internal/domain"
	"parkline/internal/events"
	"parkline/internal/migrate"
	"parkline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, conn
}

func insertSession(t *testing.T, r repo.Repo, conn *sql.DB, ticketID, entryTime string) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	s := domain.Session{
		TicketID:  ticketID,
		VehicleID: "v-" + ticketID,
		Category:  "car",
		LevelID:   1,
		SpotID:    "L1-C1",
		EntryTime: entryTime,
		Status:    "active",
	}
	if err := r.InsertSessionTx(ctx, tx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	insertSession(t, r, conn, "t1", "2024-06-01T08:00:00Z")

	s, err := r.GetSession(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Status != "active" || s.ExitTime != nil {
		t.Fatalf("unexpected session %+v", s)
	}

	tx, _ := conn.BeginTx(ctx, nil)
	if err := r.CloseSessionTx(ctx, tx, "t1", "closed", "2024-06-01T09:30:00Z", 5400, 4); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	s, err = r.GetSession(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "closed" || s.DurationSeconds == nil || *s.DurationSeconds != 5400 || s.AmountDue == nil || *s.AmountDue != 4 {
		t.Fatalf("unexpected closed session %+v", s)
	}

	// A second close must not overwrite the finished record.
	tx, _ = conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := r.CloseSessionTx(ctx, tx, "t1", "closed", "2024-06-01T10:00:00Z", 1, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("re-close: got %v, want ErrNotFound", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	if _, err := r.GetSession(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListSessionsFilterAndOrder(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	insertSession(t, r, conn, "t1", "2024-06-01T08:00:00Z")
	insertSession(t, r, conn, "t2", "2024-06-01T09:00:00Z")
	insertSession(t, r, conn, "t3", "2024-06-01T10:00:00Z")

	tx, _ := conn.BeginTx(ctx, nil)
	if err := r.CloseSessionTx(ctx, tx, "t1", "closed", "2024-06-01T11:00:00Z", 10800, 6); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	all, err := r.ListSessions(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].TicketID != "t3" {
		t.Fatalf("want 3 sessions newest first, got %+v", all)
	}
	active, err := r.ListSessions(ctx, "active", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	limited, err := r.ListSessions(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit 1 returned %d", len(limited))
	}

	counts, err := r.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["active"] != 2 || counts["closed"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestEventCursor(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: conn}

	for i := 1; i <= 3; i++ {
		tx, _ := conn.BeginTx(ctx, nil)
		err := w.Append(ctx, tx, "vehicle.entered", "lot-1", "ticket", fmt.Sprintf("t%d", i), "op-1", events.EventPayload{"n": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		tx.Commit()
	}

	latest, err := r.LatestEventID(ctx, "lot-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest != 3 {
		t.Fatalf("latest id = %d, want 3", latest)
	}

	after, err := r.EventsAfter(ctx, 10, 1, "lot-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != 2 || after[1].ID != 3 {
		t.Fatalf("events after 1 = %+v", after)
	}

	recent, err := r.LatestEvents(ctx, 2, "lot-1", "vehicle.entered", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != 3 {
		t.Fatalf("latest events = %+v", recent)
	}
	none, err := r.LatestEvents(ctx, 0, "", "lot.full", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no lot.full events, got %+v", none)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	key := domain.APIKey{
		ID:         "k1",
		OperatorID: "op-1",
		Name:       "gate",
		KeyHash:    repo.HashAPIKey("secret"),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "k1" || got.OperatorID != "op-1" {
		t.Fatalf("unexpected key %+v", got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("wrong hash: got %v, want ErrNotFound", err)
	}

	keys, err := r.ListAPIKeys(ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("list = %d keys, want 1", len(keys))
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
}
