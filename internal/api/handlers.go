package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/audience-engine/internal/copilot"
	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

// SegmentService is the segment surface used by the handlers.
// *segmentation.Service satisfies it.
type SegmentService interface {
	Create(ctx context.Context, seg *segmentation.Segment) error
	Get(ctx context.Context, id string) (*segmentation.Segment, error)
	List(ctx context.Context, owner string) ([]*segmentation.Segment, error)
	Update(ctx context.Context, id string, u segmentation.SegmentUpdate) (*segmentation.Segment, error)
	Delete(ctx context.Context, id string) error
	Preview(ctx context.Context, g segmentation.RuleGroup) (*segmentation.Preview, error)
	PreviewSegment(ctx context.Context, id string) (*segmentation.Preview, error)
}

// CampaignService is the campaign surface used by the handlers.
// *campaign.Service satisfies it.
type CampaignService interface {
	Create(ctx context.Context, in campaign.CreateInput) (*domain.Campaign, error)
	Detail(ctx context.Context, id string) (*campaign.Detail, error)
	List(ctx context.Context, owner string, status domain.CampaignStatus, page, limit int) (*campaign.Page, error)
	Update(ctx context.Context, id string, in campaign.UpdateInput) (*domain.Campaign, error)
	Delete(ctx context.Context, id string) error
	Initiate(ctx context.Context, id string) (*domain.Campaign, error)
	Stats(ctx context.Context, id string) (domain.Stats, error)
	LogStats(ctx context.Context, id string) (map[domain.LogStatus]int, error)
	Summary(ctx context.Context, id string) (string, error)
}

// ReceiptApplier reconciles delivery receipts. *delivery.Reconciler
// satisfies it.
type ReceiptApplier interface {
	Apply(ctx context.Context, rc domain.Receipt) (*delivery.BatchResult, error)
	ApplyBatch(ctx context.Context, receipts []domain.Receipt) (*delivery.BatchResult, error)
}

// VendorSimulator makes the simulated vendor report on a message.
// *worker.DeliveryWorker satisfies it.
type VendorSimulator interface {
	SimulateVendor(ctx context.Context, messageID string) (*domain.Receipt, error)
}

// RuleTranslator turns text into a rule tree. *copilot.Translator satisfies
// it.
type RuleTranslator interface {
	Translate(ctx context.Context, text string) (*segmentation.RuleGroup, error)
}

// CopySuggester drafts campaign messages. *copilot.CopyGenerator satisfies
// it.
type CopySuggester interface {
	Suggest(ctx context.Context, objective, audience string) ([]string, error)
}

// Handlers holds the services behind the HTTP API. Translator, Copy and
// Vendor are optional; their routes answer 503 when unset.
type Handlers struct {
	Segments   SegmentService
	Campaigns  CampaignService
	Receipts   ReceiptApplier
	Vendor     VendorSimulator
	Translator RuleTranslator
	Copy       CopySuggester
	Health     *HealthChecker
}

// writeError extends httputil.WriteError with the copilot's configuration
// error.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, copilot.ErrNotConfigured) {
		httputil.JSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
			Error: "AI features are not configured", Code: "not_configured",
		})
		return
	}
	httputil.WriteError(w, err)
}

func notConfigured(w http.ResponseWriter, feature string) {
	httputil.JSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
		Error: feature + " is not configured", Code: "not_configured",
	})
}
