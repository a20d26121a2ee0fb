package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
)

type gameManager interface {
	Create(ctx context.Context, conn usecase.Conn) (*usecase.Seat, error)
	Join(ctx context.Context, conn usecase.Conn, gameID, token string) (*usecase.Seat, error)
	Move(ctx context.Context, conn usecase.Conn, gameID string, cell int) (*entity.GameState, error)
	Leave(ctx context.Context, conn usecase.Conn, gameID string) error
}

type Options struct {
	JoinPolicy     string
	MoveRouting    string
	MaxMessageSize int64
	SendBuffer     int
}

type Server struct {
	logger   *slog.Logger
	manager  gameManager
	opts     Options
	upgrader websocket.Upgrader

	handlers map[string]func(ctx context.Context, c *client, req *Request) error

	clientsMutex sync.Mutex
	clients      map[string]*client
}

func New(logger *slog.Logger, manager gameManager, opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}

	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}

	server := &Server{
		logger:  logger.With("component", "websocket"),
		manager: manager,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},

		handlers: make(map[string]func(context.Context, *client, *Request) error),
		clients:  make(map[string]*client),
	}

	server.handlers[TypeCreate] = server.handleCreate
	server.handlers[TypeJoin] = server.handleJoin
	server.handlers[TypeMove] = server.handleMove

	return server
}

// Handler - http handler serving the socket endpoint at /ws.
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.upgradeToWebSocket(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	log := that.logger.With("method", "Start")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down server", "error", err)
		}

		that.closeAll()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the request and runs the read loop until the socket closes.
func (that *Server) upgradeToWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}

	c := newClient(that.logger, pkg.GenerateConnID(), conn, that.opts.SendBuffer)

	that.clientsMutex.Lock()
	that.clients[c.id] = c
	that.clientsMutex.Unlock()

	log.Info("WebSocket connection established", "connID", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	that.readLoop(ctx, c)
}

func (that *Server) readLoop(ctx context.Context, c *client) {
	log := that.logger.With("method", "readLoop", "connID", c.id)

	defer that.disconnect(ctx, c)

	c.conn.SetReadLimit(that.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("connection lost", "error", err)
			}
			return
		}

		if !that.handleMessage(ctx, c, data) {
			return
		}
	}
}

// disconnect - releases the socket and reports the departure to its session.
func (that *Server) disconnect(ctx context.Context, c *client) {
	log := that.logger.With("method", "disconnect", "connID", c.id)

	c.Close()

	that.clientsMutex.Lock()
	delete(that.clients, c.id)
	that.clientsMutex.Unlock()

	that.depart(context.WithoutCancel(ctx), c)

	log.Info("WebSocket connection closed")
}

func (that *Server) closeAll() {
	that.clientsMutex.Lock()
	defer that.clientsMutex.Unlock()

	for _, c := range that.clients {
		c.Close()
	}
}
