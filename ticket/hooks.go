package ticket

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RobotStateEvent is emitted after a ticket commits into a state with a
// robot participant. The host application dispatches the script run; the
// engine never executes user code itself.
type RobotStateEvent struct {
	EventID  string    `json:"event_id"`
	TicketID int64     `json:"ticket_id"`
	SN       string    `json:"sn"`
	StateID  int64     `json:"state_id"`
	Script   string    `json:"script"`
	Occurred time.Time `json:"occurred"`
}

// newRobotStateEvent stamps a RobotStateEvent with an id and time.
func newRobotStateEvent(ticketID int64, sn string, stateID int64, script string) RobotStateEvent {
	return RobotStateEvent{
		EventID:  uuid.NewString(),
		TicketID: ticketID,
		SN:       sn,
		StateID:  stateID,
		Script:   script,
		Occurred: time.Now(),
	}
}

// Hooks receives outbound engine events. Implementations must be safe
// for concurrent use; failures are logged, never propagated, because the
// triggering transition has already committed.
type Hooks interface {
	TicketEnteredRobotState(ctx context.Context, event RobotStateEvent) error
}

// NopHooks discards all events.
type NopHooks struct{}

func (NopHooks) TicketEnteredRobotState(context.Context, RobotStateEvent) error { return nil }

// LogHooks writes each event to a logger. It is the default dispatch in
// deployments without a script runner attached.
type LogHooks struct {
	Logger *slog.Logger
}

func (h LogHooks) TicketEnteredRobotState(_ context.Context, event RobotStateEvent) error {
	h.Logger.Info("ticket entered robot state",
		"event_id", event.EventID,
		"ticket_id", event.TicketID,
		"sn", event.SN,
		"state_id", event.StateID,
		"script", event.Script)
	return nil
}
