package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/notify"
	"github.com/always-cache/offline-cache/resync"
)

// maximum size of push and click payloads
const maxEventBytes = 64 << 10

type server struct {
	cache    *offlinecache.Cache
	notifier *notify.Dispatcher
	syncer   *resync.Runner
	version  string
}

// newRouter serves the event endpoints under /_offline and hands everything else to the cache.
func newRouter(s *server, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))

	r.Route("/_offline", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Post("/push", s.push)
		r.Post("/notification-click", s.notificationClick)
		r.Post("/sync/{tag}", s.sync)
	})
	r.Handle("/*", s.cache)
	return r
}

func (s *server) state(w http.ResponseWriter, r *http.Request) {
	generations, err := s.cache.Store().Generations(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Could not list generations")
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"state":       s.cache.State().String(),
		"version":     s.version,
		"generations": generations,
	})
}

func (s *server) push(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Could not read payload", http.StatusRequestEntityTooLarge)
		return
	}
	n, err := s.notifier.Push(r.Context(), payload)
	if errors.Is(err, notify.ErrNoDisplay) {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not display notification")
		http.Error(w, "Could not display notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

type clickEvent struct {
	Action string `json:"action"`
}

func (s *server) notificationClick(w http.ResponseWriter, r *http.Request) {
	var event clickEvent
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Could not read event", http.StatusRequestEntityTooLarge)
		return
	}
	// an empty body is a click on the notification itself
	if len(body) > 0 {
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "Malformed click event", http.StatusBadRequest)
			return
		}
	}
	target, err := s.notifier.Click(r.Context(), event.Action)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not open application")
		http.Error(w, "Could not open application", http.StatusInternalServerError)
		return
	}
	res := map[string]string{}
	if target != "" {
		res["navigate"] = target
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	// the task runs to completion even if the caller goes away
	err := s.syncer.Trigger(context.WithoutCancel(r.Context()), tag)
	if errors.Is(err, resync.ErrUnknownTrigger) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
