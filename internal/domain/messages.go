package domain

import "time"

// Delivery channel topics.
const (
	TopicDelivery = "campaign-delivery"
	TopicReceipts = "delivery-receipts"
)

// MessageTypeSend tags a send-request on the delivery topic.
const MessageTypeSend = "SEND_MESSAGE"

// SendRequest asks the delivery worker to send one personalized message.
type SendRequest struct {
	Type       string    `json:"type" validate:"required,eq=SEND_MESSAGE"`
	CampaignID string    `json:"campaignId" validate:"required"`
	CustomerID string    `json:"customerId" validate:"required"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Receipt reports a delivery lifecycle change for a previously sent message.
// A nil Timestamp means "now" at reconciliation time.
type Receipt struct {
	MessageID  string     `json:"messageId" validate:"required"`
	Status     LogStatus  `json:"status" validate:"required,oneof=sent delivered failed opened clicked"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	CampaignID string     `json:"campaignId,omitempty"`
	CustomerID string     `json:"customerId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}
