package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// CreateSegmentRequest is the request body for creating a segment
type CreateSegmentRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Rules       segmentation.RuleGroup `json:"rules"`
}

// PreviewRequest carries an unsaved rule tree.
type PreviewRequest struct {
	Rules segmentation.RuleGroup `json:"rules"`
}

// TranslateRequest carries natural language text for the rule translator.
type TranslateRequest struct {
	Query string `json:"query"`
}

// CreateSegment stores a segment with its estimated size.
//
//	POST /api/segments
func (h *Handlers) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req CreateSegmentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	seg := &segmentation.Segment{
		Name:        req.Name,
		Description: req.Description,
		Rules:       req.Rules,
		CreatedBy:   UserID(r.Context()),
	}
	if err := h.Segments.Create(r.Context(), seg); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, seg)
}

// ListSegments returns the caller's segments.
//
//	GET /api/segments
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := h.Segments.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if segs == nil {
		segs = []*segmentation.Segment{}
	}
	httputil.OK(w, segs)
}

func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Segments.Get(r.Context(), chi.URLParam(r, "segmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, seg)
}

// UpdateSegment applies a partial update. Changing the rules re-estimates
// the size and drops the cached membership.
//
//	PUT /api/segments/{segmentID}
func (h *Handlers) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var u segmentation.SegmentUpdate
	if !httputil.Decode(w, r, &u) {
		return
	}
	seg, err := h.Segments.Update(r.Context(), chi.URLParam(r, "segmentID"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, seg)
}

func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.Segments.Delete(r.Context(), chi.URLParam(r, "segmentID")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// PreviewRules evaluates an unsaved rule tree.
//
//	POST /api/segments/preview
func (h *Handlers) PreviewRules(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	p, err := h.Segments.Preview(r.Context(), req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Segments.PreviewSegment(r.Context(), chi.URLParam(r, "segmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, p)
}

// TranslateRules turns a natural language audience description into a rule
// tree. The result is not saved.
//
//	POST /api/segments/translate
func (h *Handlers) TranslateRules(w http.ResponseWriter, r *http.Request) {
	if h.Translator == nil {
		notConfigured(w, "rule translation")
		return
	}
	var req TranslateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, &domain.ValidationError{Field: "query", Reason: "is required"})
		return
	}
	rules, err := h.Translator.Translate(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"rules": rules})
}
