// Package server exposes playback control over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

const (
	maxBodyBytes = 1 << 20
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
	observerSize = 16
)

// Controller is the playback surface the server drives.
type Controller interface {
	Play(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	Status() supervisor.Status
	LastText() string
	Subscribe(size int) (<-chan supervisor.Status, func())
}

// VoicesFunc lists the voices of the configured server.
type VoicesFunc func(ctx context.Context) ([]synth.Voice, error)

// Config holds the server dependencies. Voices and Metrics are optional.
type Config struct {
	Controller Controller
	Voices     VoicesFunc
	Metrics    http.Handler
	Logger     *log.Logger
}

// Server routes HTTP requests to a Controller.
type Server struct {
	ctrl     Controller
	voices   VoicesFunc
	metrics  http.Handler
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithPrefix("server")
	}
	return &Server{
		ctrl:    cfg.Controller,
		voices:  cfg.Voices,
		metrics: cfg.Metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Post("/play", s.play)
	r.Post("/replay", s.replay)
	r.Post("/stop", s.stop)
	r.Get("/voices", s.listVoices)
	r.Get("/ws", s.watch)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type playRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Status supervisor.Status `json:"status"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.start(w, r, req.Text)
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, s.ctrl.LastText())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, text string) {
	// A client hanging up must not cancel the session it started.
	ctx := context.WithoutCancel(r.Context())
	if err := s.ctrl.Play(ctx, text); err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, segment.ErrNoText):
			code = http.StatusBadRequest
		case errors.Is(err, supervisor.ErrStopped):
			code = http.StatusConflict
		}
		s.logger.Error("Play failed", "err", err)
		writeJSON(w, code, errorResponse{Error: supervisor.UserMessage(err), Status: s.ctrl.Status()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(context.WithoutCancel(r.Context())); err != nil {
		s.logger.Warn("Stop reported an error", "err", err)
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) listVoices(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "voice listing unavailable"})
		return
	}
	voices, err := s.voices(r.Context())
	if err != nil {
		s.logger.Error("Listing voices failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": supervisor.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

// watch streams status snapshots over a websocket. The first frame is the
// current status.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	updates, unsubscribe := s.ctrl.Subscribe(observerSize)
	defer unsubscribe()

	// Reader goroutine notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st supervisor.Status) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(st)
	}
	if err := send(s.ctrl.Status()); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := send(st); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
