package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/crawler"
	"github.com/truesight/crawld/internal/repository"
)

// MaxDepth and MaxThreads are pointers so an absent field and an explicit
// zero stay distinguishable; the engine treats absent as "use the default".
type startCrawlRequest struct {
	RepositoryName string   `json:"repository_name"`
	SeedURLs       []string `json:"urls"`
	MaxDepth       *int     `json:"max_depth"`
	MaxThreads     *int     `json:"max_threads"`
	Incremental    bool     `json:"incremental"`
	BlockedURLs    []string `json:"blocked_urls"`
}

type startStoredCrawlRequest struct {
	MaxDepth    *int     `json:"max_depth"`
	MaxThreads  *int     `json:"max_threads"`
	Incremental bool     `json:"incremental"`
	BlockedURLs []string `json:"blocked_urls"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.SeedURLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if req.RepositoryName == "" {
		writeError(w, http.StatusBadRequest, "repository_name required")
		return
	}

	taskID, err := s.engine.StartCrawl(r.Context(), crawler.StartRequest{
		Repository:  req.RepositoryName,
		URLs:        req.SeedURLs,
		MaxDepth:    req.MaxDepth,
		MaxThreads:  req.MaxThreads,
		Incremental: req.Incremental,
		BlockedURLs: req.BlockedURLs,
	})
	if err != nil {
		s.writeCrawlStartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"task_id":         taskID,
		"repository_name": req.RepositoryName,
	})
}

func (s *Server) startStoredCrawl(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req startStoredCrawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	taskID, err := s.engine.StartStoredCrawl(r.Context(), name, crawler.StartRequest{
		Repository:  name,
		MaxDepth:    req.MaxDepth,
		MaxThreads:  req.MaxThreads,
		Incremental: req.Incremental,
		BlockedURLs: req.BlockedURLs,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		s.writeCrawlStartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"task_id":         taskID,
		"repository_name": name,
	})
}

func (s *Server) writeCrawlStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotCrawler):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("start crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snap, err := s.engine.GetStatus(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.engine.ListTasks()})
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, s.engine.StopTask, "stopped")
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, s.engine.PauseTask, "paused")
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	s.taskTransition(w, r, s.engine.ResumeTask, "running")
}

func (s *Server) taskTransition(w http.ResponseWriter, r *http.Request, op func(string) error, result string) {
	taskID := chi.URLParam(r, "task_id")
	if err := op(taskID); err != nil {
		if errors.Is(err, crawler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		// Anything else is an invalid state transition.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task_id": taskID,
		"status":  result,
	})
}
