package domain

import "time"

// LogStatus is the delivery lifecycle state of a single message.
type LogStatus string

const (
	LogPending   LogStatus = "pending"
	LogSent      LogStatus = "sent"
	LogDelivered LogStatus = "delivered"
	LogFailed    LogStatus = "failed"
	LogOpened    LogStatus = "opened"
	LogClicked   LogStatus = "clicked"
)

// ReceiptStatuses lists the statuses a receipt may carry.
var ReceiptStatuses = []LogStatus{LogSent, LogDelivered, LogFailed, LogOpened, LogClicked}

// Rank orders statuses along the lifecycle. delivered and failed share a
// rank: neither supersedes the other.
func (s LogStatus) Rank() int {
	switch s {
	case LogPending:
		return 0
	case LogSent:
		return 1
	case LogDelivered, LogFailed:
		return 2
	case LogOpened:
		return 3
	case LogClicked:
		return 4
	}
	return -1
}

// Valid reports whether s is a receipt status.
func (s LogStatus) Valid() bool {
	for _, v := range ReceiptStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Advance returns the status a log holds after s is applied to current.
// Status never moves backwards.
func Advance(current, s LogStatus) LogStatus {
	if s.Rank() > current.Rank() {
		return s
	}
	return current
}

// CommunicationLog records one send attempt to one customer and its delivery
// lifecycle. A lifecycle status counts as applied once its timestamp is set.
type CommunicationLog struct {
	ID            string    `json:"id" db:"id"`
	CampaignID    string    `json:"campaignId" db:"campaign_id"`
	CustomerID    string    `json:"customerId" db:"customer_id"`
	Message       string    `json:"message" db:"message"`
	MessageID     string    `json:"messageId" db:"message_id"`
	Status        LogStatus `json:"status" db:"status"`
	FailureReason string    `json:"failureReason,omitempty" db:"failure_reason"`

	SentAt      *time.Time `json:"sentAt,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty" db:"delivered_at"`
	FailedAt    *time.Time `json:"failedAt,omitempty" db:"failed_at"`
	OpenedAt    *time.Time `json:"openedAt,omitempty" db:"opened_at"`
	ClickedAt   *time.Time `json:"clickedAt,omitempty" db:"clicked_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// MarkedAt returns the timestamp recorded for status, or nil.
func (l *CommunicationLog) MarkedAt(status LogStatus) *time.Time {
	switch status {
	case LogSent:
		return l.SentAt
	case LogDelivered:
		return l.DeliveredAt
	case LogFailed:
		return l.FailedAt
	case LogOpened:
		return l.OpenedAt
	case LogClicked:
		return l.ClickedAt
	}
	return nil
}

// Mark applies status at the given time. It returns false, leaving the log
// untouched, when status was already applied.
func (l *CommunicationLog) Mark(status LogStatus, at time.Time, reason string) bool {
	if l.MarkedAt(status) != nil {
		return false
	}
	t := at
	switch status {
	case LogSent:
		l.SentAt = &t
	case LogDelivered:
		l.DeliveredAt = &t
	case LogFailed:
		l.FailedAt = &t
		if reason != "" {
			l.FailureReason = reason
		}
	case LogOpened:
		l.OpenedAt = &t
	case LogClicked:
		l.ClickedAt = &t
	default:
		return false
	}
	l.Status = Advance(l.Status, status)
	return true
}

// Record applies status like Mark and returns the counter increment it adds
// to the owning campaign. Settled is set only by the first of sent and failed.
func (l *CommunicationLog) Record(status LogStatus, at time.Time, reason string) (Stats, bool) {
	settled := l.SentAt != nil || l.FailedAt != nil
	if !l.Mark(status, at, reason) {
		return Stats{}, false
	}
	d := StatsFor(status, 1)
	if !settled && (status == LogSent || status == LogFailed) {
		d.Settled = 1
	}
	return d, true
}
