package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"parkline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const sessionColumns = `ticket_id,vehicle_id,category,level_id,spot_id,entry_time,exit_time,duration_seconds,amount_due,status`

func scanSession(row *sql.Row) (domain.Session, error) {
	var s domain.Session
	var exit sql.NullString
	var dur sql.NullInt64
	var amount sql.NullFloat64
	err := row.Scan(&s.TicketID, &s.VehicleID, &s.Category, &s.LevelID, &s.SpotID, &s.EntryTime, &exit, &dur, &amount, &s.Status)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if exit.Valid {
		s.ExitTime = &exit.String
	}
	if dur.Valid {
		s.DurationSeconds = &dur.Int64
	}
	if amount.Valid {
		s.AmountDue = &amount.Float64
	}
	return s, nil
}

func scanSessionRows(rows *sql.Rows) ([]domain.Session, error) {
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		var exit sql.NullString
		var dur sql.NullInt64
		var amount sql.NullFloat64
		if err := rows.Scan(&s.TicketID, &s.VehicleID, &s.Category, &s.LevelID, &s.SpotID, &s.EntryTime, &exit, &dur, &amount, &s.Status); err != nil {
			return nil, err
		}
		if exit.Valid {
			s.ExitTime = &exit.String
		}
		if dur.Valid {
			s.DurationSeconds = &dur.Int64
		}
		if amount.Valid {
			s.AmountDue = &amount.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(ticket_id,vehicle_id,category,level_id,spot_id,entry_time,status) VALUES (?,?,?,?,?,?,?)`,
		s.TicketID, s.VehicleID, s.Category, s.LevelID, s.SpotID, s.EntryTime, s.Status)
	return err
}

// CloseSessionTx finalizes an active session row. Closing a row that is
// not active returns ErrNotFound so a stale caller cannot overwrite a
// finished record.
func (r Repo) CloseSessionTx(ctx context.Context, tx *sql.Tx, ticketID, status, exitTime string, durationSeconds int64, amountDue float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET exit_time=?, duration_seconds=?, amount_due=?, status=? WHERE ticket_id=? AND status='active'`,
		exitTime, durationSeconds, amountDue, status, ticketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, ticketID string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE ticket_id=?`, ticketID))
}

// ListSessions returns sessions newest-entry first, optionally filtered by
// status.
func (r Repo) ListSessions(ctx context.Context, status string, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY entry_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSessionRows(rows)
}

// ActiveSessions returns every session still marked active, oldest first,
// for startup restore.
func (r Repo) ActiveSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status='active' ORDER BY entry_time ASC`)
	if err != nil {
		return nil, err
	}
	return scanSessionRows(rows)
}

func (r Repo) CountSessionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

const eventColumns = `id,ts,type,COALESCE(lot_id,''),entity_kind,COALESCE(entity_id,''),operator_id,payload_json`

func scanEventRows(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.LotID, &e.EntityKind, &e.EntityID, &e.OperatorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEvents returns up to n most recent events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, lotID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var conds []string
	var args []any
	if lotID != "" {
		conds = append(conds, "lot_id=?")
		args = append(args, lotID)
	}
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEventRows(rows)
}

// EventsAfter returns up to n events with id greater than cursor, oldest
// first, for webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, n int, cursor int64, lotID string) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id>?`
	args := []any{cursor}
	if lotID != "" {
		query += ` AND lot_id=?`
		args = append(args, lotID)
	}
	query += ` ORDER BY id ASC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEventRows(rows)
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context, lotID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if lotID != "" {
		query += ` WHERE lot_id=?`
		args = append(args, lotID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
