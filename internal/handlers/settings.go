package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/odoo"
)

// backendClient builds an Odoo client from stored settings, falling back
// to environment configuration when none are saved.
func (r *Router) backendClient() *odoo.Client {
	url, token := r.cfg.Backend.URL, r.cfg.Backend.Token

	settings, err := r.store.LoadSettings()
	if err == nil && settings.BackendURL != "" {
		url = settings.BackendURL
		if r.sealer != nil && settings.TokenSealed != "" {
			if plain, uerr := r.sealer.Unseal(settings.TokenSealed); uerr == nil {
				token = plain
			} else {
				log.Printf("⚠️ Stored token cannot be unsealed: %v", uerr)
			}
		}
	}
	return odoo.NewClient(url, token)
}

func (r *Router) batchSize() int {
	if settings, err := r.store.LoadSettings(); err == nil && settings.BatchSize > 0 {
		return settings.BatchSize
	}
	return r.cfg.Backend.BatchSize
}

func (r *Router) getSettings(w http.ResponseWriter, req *http.Request) {
	settings, err := r.store.LoadSettings()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// TokenSealed is excluded from JSON; report only whether one is stored
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings":  settings,
		"has_token": settings.TokenSealed != "",
	})
}

type settingsRequest struct {
	BackendURL string `json:"backend_url"`
	Token      string `json:"token,omitempty"`
	FetchDays  int    `json:"fetch_days"`
	BatchSize  int    `json:"batch_size"`
}

func (r *Router) updateSettings(w http.ResponseWriter, req *http.Request) {
	var in settingsRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if in.FetchDays < 0 || in.FetchDays > 365 {
		respondError(w, http.StatusBadRequest, "fetch_days must be between 0 and 365")
		return
	}

	current, err := r.store.LoadSettings()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	settings := &models.Settings{
		BackendURL:  in.BackendURL,
		TokenSealed: current.TokenSealed,
		FetchDays:   in.FetchDays,
		BatchSize:   in.BatchSize,
	}
	if settings.FetchDays == 0 {
		settings.FetchDays = 30
	}
	if settings.BatchSize == 0 {
		settings.BatchSize = 5
	}

	// An omitted token keeps the stored one; a provided token is re-sealed
	if in.Token != "" {
		if r.sealer == nil {
			respondError(w, http.StatusBadRequest, "SEAL_KEY is not configured; cannot store token")
			return
		}
		sealed, err := r.sealer.Seal(in.Token)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "sealing token: "+err.Error())
			return
		}
		settings.TokenSealed = sealed
	}

	if err := r.store.SaveSettings(settings); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings":  settings,
		"has_token": settings.TokenSealed != "",
	})
}
