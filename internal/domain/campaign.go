package domain

import (
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign is one message-send operation over the membership of a segment.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	SegmentID string         `json:"segmentId" db:"segment_id"`
	Message   string         `json:"message" db:"message"`
	Status    CampaignStatus `json:"status" db:"status"`
	CreatedBy string         `json:"createdBy" db:"created_by"`
	Stats     Stats          `json:"stats"`

	ScheduledFor *time.Time `json:"scheduledFor,omitempty" db:"scheduled_for"`
	StartedAt    *time.Time `json:"startedAt,omitempty" db:"started_at"`
	// DispatchedAt is stamped once every send-request has been emitted (or
	// emission was abandoned). Completion is only possible after it is set.
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty" db:"dispatched_at"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// CanInitiate reports whether the campaign may move to running.
func (c *Campaign) CanInitiate() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// Validate checks the fields required to create a campaign.
func (c *Campaign) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case strings.TrimSpace(c.SegmentID) == "":
		return &ValidationError{Field: "segmentId", Reason: "is required"}
	case strings.TrimSpace(c.Message) == "":
		return &ValidationError{Field: "message", Reason: "is required"}
	}
	return nil
}

// Stats holds the aggregate outcome counters of a campaign. Counters only
// ever grow; they are changed through increments, never overwritten.
type Stats struct {
	Total     int `json:"total" db:"stats_total"`
	Sent      int `json:"sent" db:"stats_sent"`
	Delivered int `json:"delivered" db:"stats_delivered"`
	Failed    int `json:"failed" db:"stats_failed"`
	Opened    int `json:"opened" db:"stats_opened"`
	Clicked   int `json:"clicked" db:"stats_clicked"`
	// Settled counts logs with a first outcome. A log that is both sent and
	// failed is settled once.
	Settled   int `json:"settled" db:"stats_settled"`
}

// Add returns the field-wise sum of s and d.
func (s Stats) Add(d Stats) Stats {
	return Stats{
		Total:     s.Total + d.Total,
		Sent:      s.Sent + d.Sent,
		Delivered: s.Delivered + d.Delivered,
		Failed:    s.Failed + d.Failed,
		Opened:    s.Opened + d.Opened,
		Clicked:   s.Clicked + d.Clicked,
		Settled:   s.Settled + d.Settled,
	}
}

// IsZero reports whether no counter is set.
func (s Stats) IsZero() bool {
	return s == Stats{}
}

// Drained reports whether every enqueued member has a first receipt.
func (s Stats) Drained() bool {
	return s.Settled >= s.Total
}

// StatsFor returns a delta with the counter for status set to n.
func StatsFor(status LogStatus, n int) Stats {
	var d Stats
	switch status {
	case LogSent:
		d.Sent = n
	case LogDelivered:
		d.Delivered = n
	case LogFailed:
		d.Failed = n
	case LogOpened:
		d.Opened = n
	case LogClicked:
		d.Clicked = n
	}
	return d
}
