package domain

// Session is the persisted history record of one parking session. Active
// rows mirror tickets held by the in-memory lot; closed rows are the
// durable receipt trail.
type Session struct {
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	LotID      string `json:"lot_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	OperatorID string `json:"operator_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
