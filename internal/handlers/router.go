package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ntptech/invoice-collector/internal/config"
	"github.com/ntptech/invoice-collector/internal/odoo"
	"github.com/ntptech/invoice-collector/internal/service"
	"github.com/ntptech/invoice-collector/internal/store"
	"github.com/ntptech/invoice-collector/internal/utils"
	"github.com/ntptech/invoice-collector/internal/websocket"
)

// stagingFinder reads staging rows back from the backend over XML-RPC.
// Implemented by odoo.RPCClient; tests substitute a stub.
type stagingFinder interface {
	FindStaging(numbers []string) ([]odoo.StagingRecord, error)
}

// Router wraps the mux router and the collector's services
type Router struct {
	*mux.Router
	cfg     *config.Config
	fetcher *service.Fetcher
	store   *store.Store
	sealer  *utils.Sealer
	hub     *websocket.Hub
	rpc     stagingFinder

	ops opState
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(cfg *config.Config, fetcher *service.Fetcher, st *store.Store, sealer *utils.Sealer, hub *websocket.Hub) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		cfg:     cfg,
		fetcher: fetcher,
		store:   st,
		sealer:  sealer,
		hub:     hub,
	}
	if b := cfg.Backend; b.URL != "" && b.Database != "" && b.RPCUser != "" {
		r.rpc = odoo.NewRPCClient(b.URL, b.Database, b.RPCUser, b.RPCPassword)
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tabs", r.checkTabs).Methods("GET")
	api.HandleFunc("/invoices", r.listInvoices).Methods("GET")
	api.HandleFunc("/invoices/fetch", r.fetchInvoices).Methods("POST")
	api.HandleFunc("/invoices/sync", r.syncInvoices).Methods("POST")
	api.HandleFunc("/sync/verify", r.verifySync).Methods("GET")
	api.HandleFunc("/settings", r.getSettings).Methods("GET")
	api.HandleFunc("/settings", r.updateSettings).Methods("PUT")
	api.HandleFunc("/export/xlsx", r.exportExcel).Methods("GET")
	api.HandleFunc("/export/pdf", r.exportPDF).Methods("GET")

	// Progress event stream
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWS(hub, w, req)
	})

	return r
}

// healthCheck reports the collector's own status and the backend's
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	backend := r.backendClient().Health(req.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backend": backend,
	})
}

func (r *Router) checkTabs(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.fetcher.CheckTabs(req.Context()))
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
