package usecase

import (
	"log/slog"
)

// Dispatcher delivers events to the connections attached to a session. A connection that
// cannot take an event is closed; its read loop then reports the departure.
type Dispatcher struct {
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With("component", "dispatcher"),
	}
}

// Reply - sends an event to the originating connection only.
func (that *Dispatcher) Reply(conn Conn, event *Event) bool {
	log := that.logger.With("method", "Reply", "connID", conn.ID(), "event", event.Type)

	if err := conn.Deliver(event); err != nil {
		log.Warn("failed to deliver, closing connection", "error", err)
		conn.Close()
		return false
	}

	return true
}

// Broadcast - sends the same event to every attached connection except skip.
// Returns the number of connections that accepted it.
func (that *Dispatcher) Broadcast(session *Session, event *Event, skip string) int {
	log := that.logger.With("method", "Broadcast", "gameID", session.ID(), "event", event.Type)

	delivered := 0
	for id, conn := range session.conns {
		if id == skip {
			continue
		}

		if err := conn.Deliver(event); err != nil {
			log.Warn("failed to deliver, closing connection", "connID", id, "error", err)
			conn.Close()
			continue
		}

		delivered++
	}

	log.Debug("broadcast done", "delivered", delivered)

	return delivered
}
