// Package delivery reconciles delivery receipts into communication logs and
// campaign counters.
//
// Each (messageId, status) pair is applied at most once: a log records a
// timestamp per lifecycle status and a receipt whose status is already
// timestamped is a duplicate. Counters therefore equal the number of applied
// lifecycle marks, whatever the order, grouping or repetition of receipts.
package delivery
