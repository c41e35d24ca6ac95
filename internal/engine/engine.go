// Package engine ties the in-memory lot to its collaborators: vehicle
// classification on the way in, pricing on the way out, and the sqlite
// session history and event log around both. The lot itself never touches
// the database; the engine records transitions after they take effect in
// memory.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parkline/internal/config"
	"parkline/internal/domain"
	"parkline/internal/events"
	"parkline/internal/lot"
	"parkline/internal/repo"
	"parkline/internal/vehicle"
)

type Engine struct {
	Lot    *lot.Lot
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

// New builds the lot from config and wires the persistence collaborators.
func New(conn *sql.DB, cfg *config.Config) (Engine, error) {
	table, err := cfg.PriceTable()
	if err != nil {
		return Engine{}, err
	}
	l, err := lot.New(cfg.Layouts(), table.Price)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		Lot:    l,
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Config: cfg,
		Now:    time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) lotID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Lot.ID
}

// Enter classifies the vehicle, assigns a spot, and records the new
// session. The ticket is valid the moment this returns; if recording
// fails the allocation is rolled back so no spot leaks.
func (e Engine) Enter(ctx context.Context, vehicleType, vehicleID, operatorID string) (lot.Ticket, error) {
	v, err := vehicle.New(vehicleType, vehicleID)
	if err != nil {
		return lot.Ticket{}, err
	}
	t, err := e.Lot.Enter(v.ID, v.Category)
	if err != nil {
		if errors.Is(err, lot.ErrLotFull) {
			// Best effort; a full lot must surface regardless of the log.
			_ = e.appendEvent(ctx, "lot.full", "lot", e.lotID(), operatorID, events.EventPayload{
				"vehicle_id": v.ID,
				"category":   string(v.Category),
			})
		}
		return lot.Ticket{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return e.rollbackEnter(t, err)
	}
	defer tx.Rollback()
	s := domain.Session{
		TicketID:  t.ID,
		VehicleID: t.VehicleID,
		Category:  string(t.Category),
		LevelID:   t.LevelID,
		SpotID:    t.SpotID,
		EntryTime: t.EntryTime.Format(time.RFC3339),
		Status:    "active",
	}
	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return e.rollbackEnter(t, fmt.Errorf("insert session: %w", err))
	}
	if err := e.Events.Append(ctx, tx, "vehicle.entered", e.lotID(), "ticket", t.ID, operatorID, events.EventPayload{
		"vehicle_id": t.VehicleID,
		"level_id":   t.LevelID,
		"spot_id":    t.SpotID,
		"category":   string(t.Category),
	}); err != nil {
		return e.rollbackEnter(t, err)
	}
	if err := tx.Commit(); err != nil {
		return e.rollbackEnter(t, err)
	}
	return t, nil
}

// rollbackEnter releases a freshly assigned spot after a failed history
// write; the exit receipt is discarded.
func (e Engine) rollbackEnter(t lot.Ticket, cause error) (lot.Ticket, error) {
	_, _ = e.Lot.Exit(t.ID)
	return lot.Ticket{}, cause
}

// Exit closes the session in memory, then finalizes the history row and
// appends the exit event in one transaction. The receipt is returned even
// when the history write fails, since the spot is already free.
func (e Engine) Exit(ctx context.Context, ticketID, operatorID string) (lot.Receipt, error) {
	rcpt, err := e.Lot.Exit(ticketID)
	if err != nil {
		return lot.Receipt{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rcpt, err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseSessionTx(ctx, tx, rcpt.TicketID, "closed",
		rcpt.ExitTime.Format(time.RFC3339), int64(rcpt.Duration.Seconds()), rcpt.AmountDue); err != nil {
		return rcpt, fmt.Errorf("close session %s: %w", rcpt.TicketID, err)
	}
	if err := e.Events.Append(ctx, tx, "vehicle.exited", e.lotID(), "ticket", rcpt.TicketID, operatorID, events.EventPayload{
		"vehicle_id": rcpt.VehicleID,
		"spot_id":    rcpt.SpotID,
		"amount_due": rcpt.AmountDue,
	}); err != nil {
		return rcpt, err
	}
	if err := tx.Commit(); err != nil {
		return rcpt, err
	}
	return rcpt, nil
}

// Restore replays sessions still marked active in the database into the
// freshly built lot, re-occupying their spots. Rows that cannot be
// resumed (layout changed, duplicate, unparsable) are marked orphaned
// with an event rather than dropped. It returns the number resumed.
func (e Engine) Restore(ctx context.Context) (int, error) {
	sessions, err := e.Repo.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, s := range sessions {
		t, err := ticketFromSession(s)
		if err == nil {
			err = e.Lot.Resume(t)
		}
		if err != nil {
			if oerr := e.orphanSession(ctx, s, err); oerr != nil {
				return resumed, oerr
			}
			continue
		}
		resumed++
	}
	return resumed, nil
}

func ticketFromSession(s domain.Session) (lot.Ticket, error) {
	cat, err := lot.ParseCategory(s.Category)
	if err != nil {
		return lot.Ticket{}, err
	}
	entry, err := time.Parse(time.RFC3339, s.EntryTime)
	if err != nil {
		return lot.Ticket{}, fmt.Errorf("entry time: %w", err)
	}
	return lot.Ticket{
		ID:        s.TicketID,
		VehicleID: s.VehicleID,
		LevelID:   s.LevelID,
		SpotID:    s.SpotID,
		Category:  cat,
		EntryTime: entry,
	}, nil
}

func (e Engine) orphanSession(ctx context.Context, s domain.Session, cause error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.CloseSessionTx(ctx, tx, s.TicketID, "orphaned", now, 0, 0); err != nil {
		return fmt.Errorf("orphan session %s: %w", s.TicketID, err)
	}
	if err := e.Events.Append(ctx, tx, "session.orphaned", e.lotID(), "ticket", s.TicketID, "system", events.EventPayload{
		"reason": cause.Error(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey mints an API key for an operator and returns the secret,
// which is shown once and stored only as a hash.
func (e Engine) CreateAPIKey(ctx context.Context, operatorID, name string) (domain.APIKey, string, error) {
	if operatorID == "" {
		return domain.APIKey{}, "", errors.New("operator id required")
	}
	secret := uuid.NewString()
	key := domain.APIKey{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		Name:       name,
		KeyHash:    repo.HashAPIKey(secret),
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// Occupancy reports the lot's current per-level occupancy.
func (e Engine) Occupancy() []lot.LevelOccupancy {
	return e.Lot.Occupancy()
}

func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, operatorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, e.lotID(), entityKind, entityID, operatorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
