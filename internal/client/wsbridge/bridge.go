// Package wsbridge streams session events to a UI over a websocket.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/events"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Source is where events come from. events.Broker implements it.
type Source interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	source Source
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	clients  int
}

func New(source Source, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		source: source,
		logger: logger.With("module", "wsbridge"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler serves /events and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info(s.ctx, "event bridge listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(s.ctx, "event bridge stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the listening address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

// Stop closes every stream and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"localhost:*", "127.0.0.1:*"}})
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	evs, unsubscribe := s.source.Subscribe(0)
	defer unsubscribe()
	s.track(1)
	defer s.track(-1)

	// Client messages are ignored; CloseRead handles pings and the close frame.
	ctx := conn.CloseRead(s.ctx)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "bridge closing")
			return
		case e, ok := <-evs:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				s.logger.Debug(ctx, "event client gone", "error", err)
				return
			}
		}
	}
}

func (s *Server) track(delta int) {
	s.mu.Lock()
	s.clients += delta
	s.mu.Unlock()
}
