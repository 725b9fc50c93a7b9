package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	"feederd/internal/storage"
	logx "feederd/pkg/logx"
)

type apiResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Schedules []string `json:"schedules,omitempty"`
}

type timeRequest struct {
	Time string `json:"time"`
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules", s.handleAddSchedule)
		r.Delete("/schedules", s.handleRemoveSchedule)
		r.Get("/test", s.handleTestFeed)
		r.Post("/restart", s.handleRestart)
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
	})

	return r
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Service) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success   bool     `json:"success"`
		Schedules []string `json:"schedules"`
	}{Success: true, Schedules: s.store.Snapshot()})
}

func (s *Service) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTime(w, r)
	if !ok {
		return
	}
	added, err := s.store.Add(req.Time)
	if err != nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: err.Error()})
		return
	}
	if !added {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: "time already scheduled"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Schedules: s.store.Snapshot()})
}

func (s *Service) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTime(w, r)
	if !ok {
		return
	}
	if err := s.store.Remove(req.Time); err != nil {
		msg := err.Error()
		if errors.Is(err, schedule.ErrNotFound) {
			msg = "time not scheduled"
		}
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: msg})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Schedules: s.store.Snapshot()})
}

func (s *Service) handleTestFeed(w http.ResponseWriter, r *http.Request) {
	if !s.allowFeed() {
		writeJSON(w, http.StatusTooManyRequests, apiResponse{Success: false, Message: "feed rate limit exceeded"})
		return
	}
	if err := s.feeder.Feed(r.Context(), actuator.SourceRemoteTest); err != nil {
		s.log.Warn("test feed failed", logx.Err(err))
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "feed executed"})
}

func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.sysd == nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: "systemd unavailable"})
		return
	}
	unit := s.unit()
	// Reply before the restart lands; once systemd acts, this process
	// is gone and so is the response.
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "restarting " + unit})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		time.Sleep(200 * time.Millisecond)
		if err := s.sysd.Restart(ctx, unit); err != nil {
			s.log.Error("unit restart failed", logx.String("unit", unit), logx.Err(err))
		}
	}()
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Success    bool   `json:"success"`
		Status     string `json:"status"`
		Goroutines struct {
			Active  int64  `json:"active"`
			Started uint64 `json:"started"`
		} `json:"goroutines"`
	}

	var resp statusResponse
	resp.Success = true
	resp.Status = "unknown"

	if s.sysd != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		state, err := s.sysd.ActiveState(ctx, s.unit())
		cancel()
		if err != nil {
			s.log.Warn("status query failed", logx.Err(err))
		} else {
			resp.Status = state
		}
	}
	if s.sup != nil {
		c := s.sup.Counters()
		resp.Goroutines.Active = c.Active
		resp.Goroutines.Started = c.Started
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: "history disabled"})
		return
	}
	recs, err := s.history.RecentFeeds(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: err.Error()})
		return
	}
	if recs == nil {
		recs = []storage.FeedRecord{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool                 `json:"success"`
		Feeds   []storage.FeedRecord `json:"feeds"`
	}{Success: true, Feeds: recs})
}

func decodeTime(w http.ResponseWriter, r *http.Request) (timeRequest, bool) {
	var req timeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "invalid request body"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
