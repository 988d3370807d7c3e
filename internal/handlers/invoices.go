package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/odoo"
)

// opState serializes the long-running operations and holds the last fetch
// result in memory. Attachments live only here; the on-disk cache stores
// stripped records.
type opState struct {
	mu       sync.Mutex
	busy     bool
	lastSet  bool
	last     []*models.InvoiceRecord
	lastSync *models.SyncResult
}

// acquire marks an operation running; returns false when one already is
func (o *opState) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.busy = true
	return true
}

func (o *opState) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func (o *opState) setLast(invoices []*models.InvoiceRecord) {
	o.mu.Lock()
	o.last = invoices
	o.lastSet = true
	o.mu.Unlock()
}

func (o *opState) getLast() ([]*models.InvoiceRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.lastSet
}

func (o *opState) setLastSync(res *models.SyncResult) {
	o.mu.Lock()
	o.lastSync = res
	o.mu.Unlock()
}

func (o *opState) getLastSync() *models.SyncResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSync
}

// listInvoices serves the cached record set from the last fetch
func (r *Router) listInvoices(w http.ResponseWriter, req *http.Request) {
	var (
		invoices []*models.InvoiceRecord
		err      error
	)
	if src := req.URL.Query().Get("source"); src != "" {
		if !models.ValidSource(models.Source(src)) {
			respondError(w, http.StatusBadRequest, "unknown source "+src)
			return
		}
		invoices, err = r.store.LoadInvoicesBySource(models.Source(src))
	} else {
		invoices, err = r.store.LoadInvoices()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	meta, err := r.store.LastFetch()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": invoices,
		"meta":     meta,
	})
}

// fetchInvoices runs the full multi-portal scrape. Only one fetch or sync
// runs at a time; a second request gets 409.
func (r *Router) fetchInvoices(w http.ResponseWriter, req *http.Request) {
	if !r.ops.acquire() {
		respondError(w, http.StatusConflict, "another operation is already running")
		return
	}
	defer r.ops.release()

	ctx := req.Context()
	if t := r.cfg.Browser.FetchTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	result := r.fetcher.FetchInvoices(ctx)
	r.ops.setLast(result.Invoices)

	if err := r.store.ReplaceInvoices(result.Invoices, uuid.NewString()); err != nil {
		log.Printf("⚠️ Caching fetch result failed: %v", err)
	}
	respondJSON(w, http.StatusOK, result)
}

// syncInvoices pushes the last fetch result to the backend
func (r *Router) syncInvoices(w http.ResponseWriter, req *http.Request) {
	if !r.ops.acquire() {
		respondError(w, http.StatusConflict, "another operation is already running")
		return
	}
	defer r.ops.release()

	invoices, ok := r.ops.getLast()
	if !ok {
		respondError(w, http.StatusPreconditionFailed, "no fetch result to sync; run a fetch first")
		return
	}

	syncer := odoo.NewSyncer(r.backendClient(), r.batchSize())
	result := syncer.Sync(req.Context(), invoices, func(processed, total int) {
		r.hub.Notify(models.ProgressEvent{
			Kind:      models.EventSyncProgress,
			Processed: processed,
			Total:     total,
		})
	})

	r.ops.setLastSync(result)
	r.hub.Notify(models.ProgressEvent{
		Kind:      models.EventSyncDone,
		Processed: result.Total,
		Total:     result.Total,
		Message:   result.SessionID,
	})
	respondJSON(w, http.StatusOK, result)
}

// verifySync reads staging rows back over XML-RPC and reconciles them
// against the last sync pass: every record the backend reported as created
// or duplicate must exist in einvoice.staging.
func (r *Router) verifySync(w http.ResponseWriter, req *http.Request) {
	if r.rpc == nil {
		respondError(w, http.StatusPreconditionFailed,
			"XML-RPC credentials not configured; set ODOO_DB, ODOO_RPC_USER and ODOO_RPC_PASSWORD")
		return
	}
	last := r.ops.getLastSync()
	if last == nil {
		respondError(w, http.StatusPreconditionFailed, "no sync result to verify; run a sync first")
		return
	}

	var numbers []string
	for _, d := range last.Details {
		if d.Status == "created" || d.Status == "duplicate" {
			numbers = append(numbers, d.InvoiceNumber)
		}
	}
	if len(numbers) == 0 {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": last.SessionID,
			"checked":    0,
			"confirmed":  0,
			"missing":    []string{},
			"verified":   true,
		})
		return
	}

	staged, err := r.rpc.FindStaging(numbers)
	if err != nil {
		respondError(w, http.StatusBadGateway, "staging lookup failed: "+err.Error())
		return
	}
	found := make(map[string]bool, len(staged))
	for _, s := range staged {
		found[s.InvoiceNumber] = true
	}

	missing := []string{}
	for _, n := range numbers {
		if !found[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		log.Printf("⚠️ Sync verification: %d of %d records missing from staging", len(missing), len(numbers))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": last.SessionID,
		"checked":    len(numbers),
		"confirmed":  len(numbers) - len(missing),
		"missing":    missing,
		"verified":   len(missing) == 0,
	})
}
