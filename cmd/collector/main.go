package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ntptech/invoice-collector/internal/ai"
	"github.com/ntptech/invoice-collector/internal/browser"
	"github.com/ntptech/invoice-collector/internal/config"
	"github.com/ntptech/invoice-collector/internal/handlers"
	"github.com/ntptech/invoice-collector/internal/portal"
	"github.com/ntptech/invoice-collector/internal/service"
	"github.com/ntptech/invoice-collector/internal/store"
	"github.com/ntptech/invoice-collector/internal/utils"
	"github.com/ntptech/invoice-collector/internal/websocket"
)

// sessionBrowser adapts the DevTools session to the service layer
type sessionBrowser struct {
	session *browser.Session
}

func (b *sessionBrowser) FindTab(patterns []string) (*service.PageHandle, error) {
	page, err := b.session.FindTab(patterns)
	if err != nil {
		return nil, err
	}
	return &service.PageHandle{Page: page, Detach: page.Detach}, nil
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Open the local cache
	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("Failed to open cache: %v", err)
	}
	defer st.Close()

	// 3. Token sealing (optional: without a key, tokens come from env only)
	var sealer *utils.Sealer
	if cfg.SealKey != "" {
		sealer, err = utils.NewSealer(cfg.SealKey)
		if err != nil {
			log.Fatalf("Failed to init sealer: %v", err)
		}
	} else {
		log.Println("⚠️ SEAL_KEY not set; backend token can only be configured via environment")
	}

	// 4. Attach to the user's running Chrome
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	session, err := browser.Connect(rootCtx, cfg.Browser.DevToolsURL)
	if err != nil {
		log.Fatalf("Failed to attach to browser at %s: %v (start Chrome with --remote-debugging-port)",
			cfg.Browser.DevToolsURL, err)
	}
	defer session.Close()
	log.Printf("🌐 Attached to browser at %s", cfg.Browser.DevToolsURL)

	// 5. Progress event hub
	hub := websocket.NewHub()
	go hub.Run()

	// 6. Optional AI fallback for unrecognized table headers
	var classifier portal.ColumnClassifier
	if cfg.AI.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(rootCtx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
		if err != nil {
			log.Printf("⚠️ Gemini init failed, header classification disabled: %v", err)
		} else {
			defer gemini.Close()
			classifier = ai.NewHeaderClassifier(gemini)
			log.Printf("🤖 Header classification enabled (%s)", cfg.AI.GeminiModel)
		}
	}

	// 7. Portal registry and fetch orchestrator
	fetchDays := cfg.Backend.FetchDays
	if settings, err := st.LoadSettings(); err == nil && settings.FetchDays > 0 {
		fetchDays = settings.FetchDays
	}
	registry := portal.DefaultRegistry(fetchDays, classifier)
	fetcher := service.NewFetcher(&sessionBrowser{session: session}, registry, hub)

	// 8. HTTP router
	router := handlers.NewRouter(cfg, fetcher, st, sealer, hub)

	server := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("🚀 Invoice collector listening on http://%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("🛑 Shutting down...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Shutdown error: %v", err)
	}
	log.Println("👋 Collector stopped")
}
