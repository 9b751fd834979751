// Package httpapi exposes the reading session over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"jomiage/internal/domain"
	"jomiage/internal/usecase"
)

const defaultMaxBodyBytes = 65536

// Controller is the session surface the router drives.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
	Submit(frame domain.Frame) ([]domain.Decision, error)
	Skip() bool
	Status() domain.Status
	Accepted() ([]string, error)
}

// Options carries the values reported alongside the runtime status.
type Options struct {
	Capture      domain.CaptureConfig
	Voice        string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type statusResponse struct {
	domain.Status
	Capture domain.CaptureConfig `json:"capture"`
	Voice   string               `json:"voice,omitempty"`
}

// NewRouter builds the HTTP routes for ctrl.
func NewRouter(ctrl Controller, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  ctrl.Status(),
			Capture: opts.Capture,
			Voice:   opts.Voice,
		})
	})

	r.Post("/v1/skip", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": ctrl.Skip()})
	})

	r.Post("/v1/frames", func(w http.ResponseWriter, req *http.Request) {
		var frame domain.Frame
		if err := decodeJSONBody(req, opts.MaxBodyBytes, &frame); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		decisions, err := ctrl.Submit(frame)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
	})

	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
			id, err := ctrl.Start(req.Context())
			if err != nil {
				logger.Error("start session failed", "error", err)
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"sessionId": id})
		})
		r.Post("/stop", func(w http.ResponseWriter, req *http.Request) {
			if err := ctrl.Stop(req.Context()); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Get("/accepted", func(w http.ResponseWriter, _ *http.Request) {
			accepted, err := ctrl.Accepted()
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
		})
	})

	return r
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, usecase.ErrNoActiveSession) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid json: multiple JSON values")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
