package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrClientClosed   = errors.New("client is closed")
	ErrSendBufferFull = errors.New("send buffer is full")
)

// client is one live socket. Outbound messages go through send and are written by
// writePump; everything else runs on the server's read loop for this socket.
type client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// gameID is the session this socket is attached to; owned by the read loop.
	gameID string
}

func newClient(logger *slog.Logger, id string, conn *websocket.Conn, sendBuffer int) *client {
	return &client{
		id:     id,
		conn:   conn,
		logger: logger.With("connID", id),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (that *client) ID() string {
	return that.id
}

// Deliver - queues an event without blocking.
func (that *client) Deliver(event *usecase.Event) error {
	return that.enqueue(eventResponse(event))
}

// Close - asks writePump to flush what is queued and close the socket.
func (that *client) Close() {
	that.closeOnce.Do(func() {
		close(that.done)
	})
}

func (that *client) enqueue(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", resp.Type, err)
	}

	select {
	case <-that.done:
		return ErrClientClosed
	default:
	}

	select {
	case that.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (that *client) writePump() {
	log := that.logger.With("method", "writePump")

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		that.Close()
		_ = that.conn.Close()
	}()

	for {
		select {
		case data := <-that.send:
			if err := that.write(websocket.TextMessage, data); err != nil {
				log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := that.write(websocket.PingMessage, nil); err != nil {
				log.Debug("ping failed", "error", err)
				return
			}
		case <-that.done:
			that.flush()
			_ = that.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (that *client) flush() {
	for {
		select {
		case data := <-that.send:
			if err := that.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (that *client) write(messageType int, data []byte) error {
	if err := that.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := that.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}
