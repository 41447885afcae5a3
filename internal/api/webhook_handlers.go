package api

import (
	"net/http"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
)

// SimulateVendorRequest names the message the simulated vendor should report
// on.
type SimulateVendorRequest struct {
	MessageID string `json:"messageId"`
}

// DeliveryReceipt reconciles a single vendor receipt. Duplicates and unknown
// message ids are counted in the result, not rejected.
//
//	POST /webhook/delivery-receipt
func (h *Handlers) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	var rc domain.Receipt
	if !httputil.Decode(w, r, &rc) {
		return
	}
	res, err := h.Receipts.Apply(r.Context(), rc)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// DeliveryReceiptBatch reconciles a JSON array of receipts. One invalid
// receipt rejects the whole batch.
//
//	POST /webhook/delivery-receipts/batch
func (h *Handlers) DeliveryReceiptBatch(w http.ResponseWriter, r *http.Request) {
	var receipts []domain.Receipt
	if !httputil.Decode(w, r, &receipts) {
		return
	}
	res, err := h.Receipts.ApplyBatch(r.Context(), receipts)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// SimulateVendor makes the simulated vendor report on an existing message
// right away.
//
//	POST /webhook/simulate-vendor
func (h *Handlers) SimulateVendor(w http.ResponseWriter, r *http.Request) {
	if h.Vendor == nil {
		notConfigured(w, "vendor simulation")
		return
	}
	var req SimulateVendorRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeError(w, &domain.ValidationError{Field: "messageId", Reason: "is required"})
		return
	}
	rc, err := h.Vendor.SimulateVendor(r.Context(), req.MessageID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, rc)
}
