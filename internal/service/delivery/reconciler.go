package delivery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BatchResult summarizes one reconciliation call.
type BatchResult struct {
	Received   int      `json:"received"`
	Applied    int      `json:"applied"`
	Duplicates int      `json:"duplicates"`
	NotFound   int      `json:"notFound"`
	Campaigns  []string `json:"campaigns,omitempty"`
	Completed  []string `json:"completed,omitempty"`
}

// Reconciler folds receipts into logs and campaign counters.
type Reconciler struct {
	logs      LogRepository
	campaigns CampaignCompleter
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(logs LogRepository, campaigns CampaignCompleter) *Reconciler {
	return &Reconciler{logs: logs, campaigns: campaigns, now: time.Now}
}

// Apply reconciles a single receipt. It is ApplyBatch with one element.
func (r *Reconciler) Apply(ctx context.Context, rc domain.Receipt) (*BatchResult, error) {
	return r.ApplyBatch(ctx, []domain.Receipt{rc})
}

// ApplyBatch reconciles receipts. Every receipt is validated before anything
// is written; one malformed receipt rejects the batch. Receipts for unknown
// messageIds are logged and skipped. The marks and their per-campaign counter
// increments are written as one unit, so a failed batch can be redelivered
// whole.
func (r *Reconciler) ApplyBatch(ctx context.Context, receipts []domain.Receipt) (*BatchResult, error) {
	for i := range receipts {
		if err := ValidateReceipt(receipts[i]); err != nil {
			if len(receipts) > 1 {
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					ve.Field = fmt.Sprintf("receipts[%d].%s", i, ve.Field)
				}
			}
			return nil, err
		}
	}

	marks := make([]Mark, len(receipts))
	for i, rc := range receipts {
		at := r.now().UTC()
		if rc.Timestamp != nil {
			at = rc.Timestamp.UTC()
		}
		marks[i] = Mark{MessageID: rc.MessageID, Status: rc.Status, At: at, Reason: rc.Reason}
	}

	// Accepted receipts are reconciled even if the caller goes away.
	bg := context.WithoutCancel(ctx)

	res := &BatchResult{Received: len(receipts)}
	out, err := r.logs.ApplyMarks(bg, marks)
	if err != nil {
		return res, fmt.Errorf("apply receipts: %w", err)
	}
	res.Applied = out.Applied
	res.Duplicates = out.Duplicates
	res.NotFound = len(out.NotFound)
	for _, id := range out.NotFound {
		logger.Warn("receipt for unknown message dropped", "message_id", id)
	}

	ids := make([]string, 0, len(out.Deltas))
	for id := range out.Deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Campaigns = append(res.Campaigns, id)
		done, err := r.campaigns.CompleteIfDrained(bg, id, r.now().UTC())
		if err != nil {
			logger.Warn("completion check failed", "campaign_id", id, "error", err)
			continue
		}
		if done {
			res.Completed = append(res.Completed, id)
			logger.Info("campaign completed", "campaign_id", id)
		}
	}
	return res, nil
}

// ValidateReceipt checks the shape of a receipt.
func ValidateReceipt(rc domain.Receipt) error {
	err := validate.Struct(rc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if fe.Tag() == "oneof" {
			return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))}
		}
		return &domain.ValidationError{Field: field, Reason: "is required"}
	}
	return &domain.ValidationError{Reason: err.Error()}
}
