package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/pipeline"
	"github.com/ppiankov/kurral/internal/store"
)

const (
	defaultReviewLimit = 100
	maxBodyBytes       = 1 << 20
)

// pinger is implemented by stores that can report connectivity
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createItemRequest is the accepted shape of a new item; status and checkpoint are server-owned
type createItemRequest struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	ParentID   string    `json:"parent_id"`
	Text       string    `json:"text"`
	ImageURL   string    `json:"image_url"`
	Topics     []string  `json:"topics"`
	OriginalID string    `json:"original_id"`
	QuotedID   string    `json:"quoted_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (req createItemRequest) validate() error {
	switch {
	case strings.TrimSpace(req.AuthorID) == "":
		return errors.New("author_id is required")
	case req.OriginalID != "" && req.QuotedID != "":
		return errors.New("an item cannot both repost and quote")
	case req.OriginalID == "" && strings.TrimSpace(req.Text) == "" && req.ImageURL == "":
		return errors.New("item has no content")
	case req.OriginalID != "" && req.OriginalID == req.ID:
		return errors.New("an item cannot repost itself")
	}
	return nil
}

type createItemResponse struct {
	ID     string           `json:"id"`
	Status model.ItemStatus `json:"status"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.ID != "" {
		if _, err := s.store.GetItem(ctx, req.ID); err == nil {
			s.writeError(w, http.StatusConflict, "item "+req.ID+" already exists")
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			s.internalError(w, r, err)
			return
		}
	}
	if req.ParentID != "" {
		parent, err := s.store.GetItem(ctx, req.ParentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.Deleted) {
			s.writeError(w, http.StatusBadRequest, "parent "+req.ParentID+" not found")
			return
		}
		if err != nil {
			s.internalError(w, r, err)
			return
		}
	}

	item := &model.ContentItem{
		ID:         req.ID,
		AuthorID:   req.AuthorID,
		ParentID:   req.ParentID,
		Text:       req.Text,
		ImageURL:   req.ImageURL,
		Topics:     req.Topics,
		OriginalID: req.OriginalID,
		QuotedID:   req.QuotedID,
		CreatedAt:  req.CreatedAt,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		s.internalError(w, r, err)
		return
	}

	s.log.Debug().Str("item", item.ID).Str("author", item.AuthorID).Msg("item accepted")
	s.writeJSON(w, http.StatusAccepted, createItemResponse{ID: item.ID, Status: item.Status})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeleteItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "item "+id+" not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := pipeline.BuildReport(r.Context(), s.store, s.failureMode, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "item "+id+" not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// requireItem writes a 404 and returns false when the item does not exist
func (s *Server) requireItem(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := s.store.GetItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "item "+id+" not found")
		return false
	}
	if err != nil {
		s.internalError(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.requireItem(w, r, id) {
		return
	}
	claims, err := s.store.GetClaims(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	s.writeJSON(w, http.StatusOK, claims)
}

func (s *Server) handleFactChecks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.requireItem(w, r, id) {
		return
	}
	checks, err := s.store.GetFactChecks(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if checks == nil {
		checks = []model.FactCheck{}
	}
	s.writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	vs, err := s.store.GetValueScore(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no value score for item "+id)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vs)
}

type reprocessResponse struct {
	ItemID string `json:"item_id"`
	JobID  string `json:"job_id"`
	Full   bool   `json:"full"`
}

// handleReprocess re-queues an item; ?full=true discards the checkpoint so every stage re-runs
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	ctx := r.Context()

	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && item.Deleted) {
		s.writeError(w, http.StatusNotFound, "item "+id+" not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if item.Status == model.StatusInProgress {
		s.writeError(w, http.StatusConflict, "item "+id+" is being processed")
		return
	}

	if err := s.store.ResetItem(ctx, id, full); err != nil {
		s.internalError(w, r, err)
		return
	}
	jobID, err := s.store.EnqueueJob(ctx, id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.log.Info().Str("item", id).Str("job", jobID).Bool("full", full).Msg("item re-queued")
	s.writeJSON(w, http.StatusAccepted, reprocessResponse{ItemID: id, JobID: jobID, Full: full})
}

func (s *Server) handleKurral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	score, err := s.store.GetKurralScore(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no kurral score for user "+id)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleValueStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.store.GetValueStats(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no value stats for user "+id)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	limit := defaultReviewLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	tickets, err := s.store.ListReviews(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []model.ReviewTicket{}
	}
	s.writeJSON(w, http.StatusOK, tickets)
}
