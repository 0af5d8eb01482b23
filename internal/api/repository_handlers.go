package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/repository"
)

type createRepositoryRequest struct {
	Name            string   `json:"name"`
	Source          string   `json:"source"`
	URLs            []string `json:"urls"`
	UpdateFrequency string   `json:"update_frequency"`
	AutoUpdate      bool     `json:"auto_update"`
	DirectImport    bool     `json:"direct_import"`
}

type updateRepositoryRequest struct {
	URLs            *[]string `json:"urls"`
	UpdateFrequency *string   `json:"update_frequency"`
	DirectImport    *bool     `json:"direct_import"`
}

type autoUpdateRequest struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"`
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.repos.GetAll(r.Context())
	if err != nil {
		s.logger.Error("list repositories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list repositories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": repos})
}

func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	source := repository.Source(req.Source)
	if source == "" {
		source = repository.SourceCrawler
	}
	if source != repository.SourceCrawler && source != repository.SourceUpload {
		writeError(w, http.StatusBadRequest, "invalid source")
		return
	}
	freq := repository.Frequency(req.UpdateFrequency)
	if req.AutoUpdate && !freq.Valid() {
		writeError(w, http.StatusBadRequest, "invalid update_frequency")
		return
	}

	repo, err := s.repos.Create(r.Context(), repository.Repository{
		Name:            req.Name,
		Source:          source,
		URLs:            req.URLs,
		Status:          repository.StatusIncomplete,
		AutoUpdate:      req.AutoUpdate,
		UpdateFrequency: freq,
		DirectImport:    req.DirectImport,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, repository.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("create repository failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create repository")
		}
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	repo, err := s.repos.Get(r.Context(), name)
	if err != nil {
		s.writeRepositoryError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) updateRepository(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req updateRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	repo, err := s.repos.Get(r.Context(), name)
	if err != nil {
		s.writeRepositoryError(w, name, err)
		return
	}
	if req.URLs != nil {
		repo.URLs = *req.URLs
	}
	if req.UpdateFrequency != nil {
		freq := repository.Frequency(*req.UpdateFrequency)
		if !freq.Valid() {
			writeError(w, http.StatusBadRequest, "invalid update_frequency")
			return
		}
		repo.UpdateFrequency = freq
	}
	if req.DirectImport != nil {
		repo.DirectImport = *req.DirectImport
	}

	updated, err := s.repos.Update(r.Context(), repo)
	if err != nil {
		s.writeRepositoryError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRepository(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.repos.Delete(r.Context(), name); err != nil {
		s.writeRepositoryError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name})
}

func (s *Server) listRepositoryFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var exts []string
	if raw := r.URL.Query().Get("exts"); raw != "" {
		for _, ext := range strings.Split(raw, ",") {
			ext = strings.TrimSpace(ext)
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
	}
	files, err := s.repos.ListArtifacts(r.Context(), name, exts)
	if err != nil {
		s.writeRepositoryError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "files": files})
}

func (s *Server) setAutoUpdate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req autoUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := s.repos.SetAutoUpdate(r.Context(), name, req.Enabled, repository.Frequency(req.Frequency))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotCrawler):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidName):
			writeError(w, http.StatusNotFound, "repository not found")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name})
}

func (s *Server) writeRepositoryError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidName):
		writeError(w, http.StatusNotFound, "repository not found")
	default:
		s.logger.Error("repository operation failed",
			zap.String("name", name),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "repository operation failed")
	}
}
