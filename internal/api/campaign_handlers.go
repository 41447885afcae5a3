package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

// CreateCampaignRequest is the request body for creating a campaign.
// Without a schedule the campaign starts right away unless
// startImmediately is false.
type CreateCampaignRequest struct {
	Name             string     `json:"name"`
	SegmentID        string     `json:"segmentId"`
	Message          string     `json:"message"`
	ScheduledFor     *time.Time `json:"scheduledFor,omitempty"`
	StartImmediately *bool      `json:"startImmediately,omitempty"`
}

// SuggestRequest asks for message drafts.
type SuggestRequest struct {
	Objective           string `json:"objective"`
	AudienceDescription string `json:"audienceDescription,omitempty"`
}

// StatsResponse pairs the campaign counters with the per-status log counts.
type StatsResponse struct {
	Stats    domain.Stats             `json:"stats"`
	ByStatus map[domain.LogStatus]int `json:"byStatus"`
}

// CreateCampaign stores a campaign and, by default, initiates it.
//
//	POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	start := req.ScheduledFor == nil
	if req.StartImmediately != nil {
		start = *req.StartImmediately
	}
	c, err := h.Campaigns.Create(r.Context(), campaign.CreateInput{
		Name:             req.Name,
		SegmentID:        req.SegmentID,
		Message:          req.Message,
		ScheduledFor:     req.ScheduledFor,
		CreatedBy:        UserID(r.Context()),
		StartImmediately: start,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

// ListCampaigns returns a page of the caller's campaigns, newest first.
//
//	GET /api/campaigns?page=1&limit=10&status=running
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := pageFromQuery(r)
	page, err := h.Campaigns.List(r.Context(), UserID(r.Context()),
		domain.CampaignStatus(r.URL.Query().Get("status")), p.Number, p.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, page)
}

// GetCampaign returns a campaign with its most recent logs.
//
//	GET /api/campaigns/{campaignID}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	d, err := h.Campaigns.Detail(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, d)
}

// UpdateCampaign edits the name, message or schedule of a campaign that has
// not started. A schedule makes it scheduled.
//
//	PUT /api/campaigns/{campaignID}
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaign.UpdateInput
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.Campaigns.Update(r.Context(), chi.URLParam(r, "campaignID"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.Campaigns.Delete(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// InitiateCampaign starts a draft or scheduled campaign. Any other status
// answers 409.
//
//	POST /api/campaigns/{campaignID}/initiate
func (h *Handlers) InitiateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Campaigns.Initiate(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	stats, err := h.Campaigns.Stats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	byStatus, err := h.Campaigns.LogStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, StatsResponse{Stats: stats, ByStatus: byStatus})
}

// CampaignSummary returns a written summary of the campaign's performance.
//
//	GET /api/campaigns/{campaignID}/summary
func (h *Handlers) CampaignSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Campaigns.Summary(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"summary": summary})
}

// SuggestMessages drafts campaign messages for an objective.
//
//	POST /api/campaigns/suggest-messages
func (h *Handlers) SuggestMessages(w http.ResponseWriter, r *http.Request) {
	if h.Copy == nil {
		notConfigured(w, "message suggestions")
		return
	}
	var req SuggestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	suggestions, err := h.Copy.Suggest(r.Context(), req.Objective, req.AudienceDescription)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string][]string{"suggestions": suggestions})
}
