// Package domain holds the value types that move between the segment engine,
// the campaign orchestrator, the delivery channel and the receipt reconciler:
// customers, campaigns with their counters, communication logs, send requests
// and receipts.
//
// Nothing here imports another internal package or holds a connection.
// Methods are limited to validation and state helpers such as
// CommunicationLog.Mark.
package domain
