// Package server exposes session control over HTTP and a WebSocket status stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/petems/meeting-tray/internal/app"
	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/session"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Controller is the part of the app the API drives.
type Controller interface {
	StartRecording() (session.Handle, error)
	StopRecording(ctx context.Context) (app.Saved, error)
	UploadLast(ctx context.Context) (string, error)
	Status() app.Status
}

type Server struct {
	ctrl Controller
	hub  *Hub
	log  zerolog.Logger
}

// New creates a server. The hub is optional; without it /ws is not routed.
func New(ctrl Controller, hub *Hub, log zerolog.Logger) *Server {
	return &Server{ctrl: ctrl, hub: hub, log: log}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/upload_last", s.handleUploadLast)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return securityHeaders(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h, err := s.ctrl.StartRecording()
	switch {
	case errors.Is(err, session.ErrAlreadyRecording):
		s.writeError(w, http.StatusBadRequest, "Already recording")
	case errors.Is(err, audio.ErrDeviceNotFound):
		s.writeError(w, http.StatusServiceUnavailable, "No audio device available")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "started", "file": h.Artifact})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	saved, err := s.ctrl.StopRecording(r.Context())
	switch {
	case errors.Is(err, session.ErrNotRecording):
		s.writeError(w, http.StatusBadRequest, "Not recording")
	case errors.Is(err, session.ErrEmpty):
		s.writeError(w, http.StatusUnprocessableEntity, "Nothing was recorded")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":           "stopped",
			"file":             saved.Artifact,
			"path":             saved.Path,
			"duration_seconds": saved.Duration,
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleUploadLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, err := s.ctrl.UploadLast(r.Context())
	switch {
	case errors.Is(err, app.ErrNothingToUpload):
		s.writeError(w, http.StatusNotFound, "No recording available to upload")
	case errors.Is(err, app.ErrUploadNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, "Upload not configured")
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Uploaded", "key": key})
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
