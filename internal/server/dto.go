package server

import (
	"encoding/json"
	"time"

	"parkline/internal/domain"
	"parkline/internal/lot"
)

// Request payloads

type EnterRequest struct {
	VehicleID   string `json:"vehicle_id" example:"ABC123"`
	VehicleType string `json:"vehicle_type" example:"car"`
}

type ExitRequest struct {
	TicketID string `json:"ticket_id"`
}

// Response payloads

type TicketResponse struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id"`
	LevelID   int    `json:"level_id"`
	SpotID    string `json:"spot_id"`
	Category  string `json:"category" enum:"motorcycle,car,bus"`
	EntryTime string `json:"entry_time" format:"date-time"`
}

func ticketResponse(t lot.Ticket) TicketResponse {
	return TicketResponse{
		ID:        t.ID,
		VehicleID: t.VehicleID,
		LevelID:   t.LevelID,
		SpotID:    t.SpotID,
		Category:  string(t.Category),
		EntryTime: t.EntryTime.Format(time.RFC3339),
	}
}

type ReceiptResponse struct {
	TicketID        string  `json:"ticket_id"`
	VehicleID       string  `json:"vehicle_id"`
	SpotID          string  `json:"spot_id"`
	Category        string  `json:"category" enum:"motorcycle,car,bus"`
	EntryTime       string  `json:"entry_time" format:"date-time"`
	ExitTime        string  `json:"exit_time" format:"date-time"`
	DurationSeconds int64   `json:"duration_seconds"`
	AmountDue       float64 `json:"amount_due"`
}

func receiptResponse(r lot.Receipt) ReceiptResponse {
	return ReceiptResponse{
		TicketID:        r.TicketID,
		VehicleID:       r.VehicleID,
		SpotID:          r.SpotID,
		Category:        string(r.Category),
		EntryTime:       r.EntryTime.Format(time.RFC3339),
		ExitTime:        r.ExitTime.Format(time.RFC3339),
		DurationSeconds: int64(r.Duration.Seconds()),
		AmountDue:       r.AmountDue,
	}
}

type SessionResponse struct {
	TicketID        string   `json:"ticket_id"`
	VehicleID       string   `json:"vehicle_id"`
	Category        string   `json:"category" enum:"motorcycle,car,bus"`
	LevelID         int      `json:"level_id"`
	SpotID          string   `json:"spot_id"`
	EntryTime       string   `json:"entry_time" format:"date-time"`
	ExitTime        *string  `json:"exit_time,omitempty" format:"date-time"`
	DurationSeconds *int64   `json:"duration_seconds,omitempty"`
	AmountDue       *float64 `json:"amount_due,omitempty"`
	Status          string   `json:"status" enum:"active,closed,orphaned"`
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		TicketID:        s.TicketID,
		VehicleID:       s.VehicleID,
		Category:        s.Category,
		LevelID:         s.LevelID,
		SpotID:          s.SpotID,
		EntryTime:       s.EntryTime,
		ExitTime:        s.ExitTime,
		DurationSeconds: s.DurationSeconds,
		AmountDue:       s.AmountDue,
		Status:          s.Status,
	}
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	OperatorID string         `json:"operator_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		OperatorID: e.OperatorID,
		Payload:    payload,
	}
}

type StatusResponse struct {
	LotID     string               `json:"lot_id"`
	Levels    []lot.LevelOccupancy `json:"levels"`
	Sessions  map[string]int       `json:"sessions"`
	ActiveNow int                  `json:"active_now"`
}
