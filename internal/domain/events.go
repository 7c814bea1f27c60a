package domain

import "time"

// PositionEventType labels entries on the position-change event stream.
type PositionEventType string

const (
	PositionEventOpened    PositionEventType = "opened"
	PositionEventUpdated   PositionEventType = "updated"
	PositionEventClosed    PositionEventType = "closed"
	PositionEventRiskAlert PositionEventType = "risk_alert"
)

// PositionEvent is published to notification consumers (dashboard, bot)
// whenever a position changes state.
type PositionEvent struct {
	Type     PositionEventType `json:"type"`
	Position Position          `json:"position"`
	Reason   string            `json:"reason,omitempty"`
	At       time.Time         `json:"at"`
}
