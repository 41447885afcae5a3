package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

// ErrLogNotFound is returned when no communication log has the messageId.
var ErrLogNotFound = errors.New("communication log not found")

// ErrDuplicateMessageID is returned by Create for a messageId already in use.
var ErrDuplicateMessageID = errors.New("duplicate message id")

// Mark is one receipt status to record on a log.
type Mark struct {
	MessageID string
	Status    domain.LogStatus
	At        time.Time
	Reason    string
}

// MarkResult reports what ApplyMarks recorded.
type MarkResult struct {
	Applied    int
	Duplicates int
	// NotFound holds the messageIds that matched no log.
	NotFound []string
	// Deltas are the counter increments applied, by campaign id.
	Deltas map[string]domain.Stats
}

// LogRepository persists communication logs. Implementations must be safe for
// concurrent use.
type LogRepository interface {
	Create(ctx context.Context, l *domain.CommunicationLog) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.CommunicationLog, error)

	// ApplyMarks records each status on its log if that status has not been
	// recorded yet, advancing the log's status without regressing it, and
	// adds the resulting increments to the owning campaigns' counters. The
	// marks and the increments commit together or not at all. Marks for
	// unknown messageIds are reported in NotFound and skipped.
	ApplyMarks(ctx context.Context, marks []Mark) (*MarkResult, error)

	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.CommunicationLog, error)
	CountByStatus(ctx context.Context, campaignID string) (map[domain.LogStatus]int, error)
}

// CampaignCompleter closes campaigns once reconciliation has drained them.
type CampaignCompleter interface {
	// CompleteIfDrained moves a running, fully dispatched campaign whose
	// settled count has reached total to completed.
	CompleteIfDrained(ctx context.Context, campaignID string, at time.Time) (bool, error)
}
