package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusops/qrgate/internal/qrgate/qrcode"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type actionPointPage struct {
	Results  []types.ActionPoint `json:"results"`
	Count    int                 `json:"count"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

func (s *Server) handleListActionPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.ActionPointFilter
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_filter", "is_active must be true or false")
			return
		}
		f.Active = &active
	}
	p, err := parsePage(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_page", err.Error())
		return
	}
	p = p.Normalize()

	points, total, err := s.actionPoints.List(r.Context(), f, p)
	if err != nil {
		s.writeServiceError(w, r, "list action points", err)
		return
	}
	if points == nil {
		points = []types.ActionPoint{}
	}
	writeJSON(w, http.StatusOK, actionPointPage{Results: points, Count: total, Page: p.Page, PageSize: p.PageSize})
}

func (s *Server) handleGetActionPoint(w http.ResponseWriter, r *http.Request) {
	ap, err := s.actionPoints.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "get action point", err)
		return
	}
	writeJSON(w, http.StatusOK, ap)
}

func (s *Server) handleCreateActionPoint(w http.ResponseWriter, r *http.Request) {
	var ap types.ActionPoint
	if err := decodeJSON(r, &ap); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	created, err := s.actionPoints.Create(r.Context(), ap)
	if err != nil {
		s.writeServiceError(w, r, "create action point", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.actionPoints.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, "deactivate action point", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// handleGenerate renders a mode_b point's printed code as PNG. size is in
// pixels and clamped to the renderer's limits.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	size := qrcode.DefaultSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_size", "size must be an integer")
			return
		}
		size = n
	}

	png, err := s.actionPoints.Generate(r.Context(), chi.URLParam(r, "id"), size)
	if err != nil {
		s.writeServiceError(w, r, "generate qr", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
