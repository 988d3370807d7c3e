package odoo

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/ntptech/invoice-collector/internal/models"
)

// defaultBatchSize keeps payloads small enough that one oversized PDF
// cannot stall an entire sync pass.
const defaultBatchSize = 5

// ProgressFunc receives sync progress. Processed never decreases within a
// pass; total is fixed up front.
type ProgressFunc func(processed, total int)

// Syncer pushes scraped records to the backend in batches
type Syncer struct {
	client    *Client
	batchSize int
}

// NewSyncer wires a sync orchestrator around a backend client
func NewSyncer(client *Client, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Syncer{client: client, batchSize: batchSize}
}

// Sync validates and submits all records. Invalid records are classified as
// errors locally without being sent. A batch-level transport failure marks
// only that batch's records as errors; later batches still run. The result
// classifies every input record exactly once.
func (s *Syncer) Sync(ctx context.Context, invoices []*models.InvoiceRecord, onProgress ProgressFunc) *models.SyncResult {
	result := &models.SyncResult{
		Total:     len(invoices),
		SessionID: uuid.NewString(),
	}
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	if !s.client.Configured() {
		result.Error = ErrBackendNotConfigured.Error()
		result.Errors = len(invoices)
		for _, inv := range invoices {
			result.Details = append(result.Details, models.SyncDetail{
				InvoiceNumber: inv.InvoiceNumber,
				Status:        "error",
				Message:       ErrBackendNotConfigured.Error(),
			})
		}
		return result
	}

	valid := make([]*models.InvoiceRecord, 0, len(invoices))
	for _, inv := range invoices {
		if errs := inv.Validate(); len(errs) > 0 {
			result.Errors++
			result.Details = append(result.Details, models.SyncDetail{
				InvoiceNumber: inv.InvoiceNumber,
				Status:        "error",
				Message:       "validation: " + strings.Join(errs, "; "),
			})
			continue
		}
		valid = append(valid, inv)
	}

	processed := len(invoices) - len(valid)
	onProgress(processed, result.Total)

	for start := 0; start < len(valid); start += s.batchSize {
		end := start + s.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		if err := ctx.Err(); err != nil {
			// Remaining records are errors, not silently dropped
			for _, inv := range batch {
				result.Errors++
				result.Details = append(result.Details, models.SyncDetail{
					InvoiceNumber: inv.InvoiceNumber,
					Status:        "error",
					Message:       "sync cancelled",
				})
			}
			processed += len(batch)
			continue
		}

		s.syncBatch(ctx, batch, result)
		processed += len(batch)
		onProgress(processed, result.Total)
	}

	result.Success = result.Errors == 0
	log.Printf("📦 Sync %s: %d created, %d duplicates, %d errors of %d",
		result.SessionID[:8], result.Created, result.Duplicates, result.Errors, result.Total)
	return result
}

func (s *Syncer) syncBatch(ctx context.Context, batch []*models.InvoiceRecord, result *models.SyncResult) {
	res, err := s.client.CreateStaging(ctx, batch, result.SessionID)
	if err != nil {
		for _, inv := range batch {
			result.Errors++
			result.Details = append(result.Details, models.SyncDetail{
				InvoiceNumber: inv.InvoiceNumber,
				Status:        "error",
				Message:       err.Error(),
			})
		}
		return
	}

	// Index the backend's outcomes; records the backend did not mention
	// are errors, never assumed created.
	outcomes := make(map[string]stagingOutcome, len(res.Results))
	for _, o := range res.Results {
		outcomes[o.InvoiceNumber] = o
	}

	for _, inv := range batch {
		o, ok := outcomes[inv.InvoiceNumber]
		if !ok {
			result.Errors++
			result.Details = append(result.Details, models.SyncDetail{
				InvoiceNumber: inv.InvoiceNumber,
				Status:        "error",
				Message:       "backend returned no outcome for this invoice",
			})
			continue
		}

		detail := models.SyncDetail{
			InvoiceNumber: inv.InvoiceNumber,
			Status:        o.Status,
			StagingID:     o.StagingID,
			Message:       o.Message,
		}
		switch o.Status {
		case "created":
			result.Created++
		case "duplicate":
			result.Duplicates++
		default:
			detail.Status = "error"
			if detail.Message == "" {
				detail.Message = fmt.Sprintf("unrecognized backend status %q", o.Status)
			}
			result.Errors++
		}
		result.Details = append(result.Details, detail)
	}
}
