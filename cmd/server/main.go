package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-research-crew/internal/api"
	"go-research-crew/internal/assessor"
	"go-research-crew/internal/config"
	"go-research-crew/internal/coordinator"
	"go-research-crew/internal/crew"
	"go-research-crew/internal/events"
	"go-research-crew/internal/llmgateway"
	"go-research-crew/internal/membridge"
	"go-research-crew/internal/queue"
	"go-research-crew/internal/session"
	"go-research-crew/internal/specialist"
	"go-research-crew/internal/specialist/backends"
	"go-research-crew/internal/store"
	"go-research-crew/internal/watcher"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store init error: %v\n", err)
		os.Exit(1)
	}
	defer st.Shutdown()

	bus := events.New()

	gw := llmgateway.New(llmgateway.DefaultConfig(cfg.LLM.URL, cfg.LLM.Model))
	defer gw.Stop()

	registry := buildRegistry(cfg, st)
	co := coordinator.New(gw)
	asr := assessor.New(st)
	bridge := membridge.New(cfg.MemoryBridge, st)

	cw := crew.New(co, registry, st, bridge, bus, cfg.Crew, asr)
	runner := crew.NewRunner(cw)
	q := queue.New(cfg.Queue, st, runner, bus)

	sessions := session.NewTracker(cfg.Session.MaxRingEvents)
	w := watcher.New(watcher.Config{
		AutonomousEnabled:   cfg.Research.AutonomousEnabled,
		ConfidenceThreshold: cfg.Research.ConfidenceThreshold,
		SessionCooldownMs:   cfg.Research.SessionCooldownMs,
		MaxResearchPerHour:  cfg.Research.MaxResearchPerHour,
	}, gw, sessions, st, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	go pruneIdleSessions(ctx, sessions)

	router := api.NewRouter(cfg.Server, q, st, bus, asr, sessions, w)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("[Main] listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	case <-stop:
		log.Printf("[Main] shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] graceful shutdown failed: %v", err)
		}
	}
}

// buildRegistry wires the three concrete specialists from the configured
// credential set. Every tool speaks to the same SearXNG-style backend,
// differentiated by credential and (for the fallback tools) a site filter.
func buildRegistry(cfg *config.Config, st *store.Store) *specialist.Registry {
	fetcher := specialist.NewContentFetcher()
	reg := specialist.NewRegistry()
	base := cfg.Search.BaseURL
	creds := cfg.Credentials

	web := specialist.New("web", "web", []specialist.Tool{
		backends.NewGeneralSearch(base, creds.GeneralSearch),
		backends.NewGeneralSearchBackup(base, creds.GeneralSearchB),
	}, map[string]string{
		"generalSearchKey":       creds.GeneralSearch,
		"generalSearchBackupKey": creds.GeneralSearchB,
	}, fetcher, st)

	code := specialist.New("code", "code", []specialist.Tool{
		backends.NewCodeSearch(base, creds.CodeSearch),
		backends.NewQAForum(base, creds.QAForum),
		backends.NewPackageRegistry(base, creds.PackageRegistry),
		backends.NewRestrictedFallback(base, creds.GeneralSearch, []string{"github.com", "stackoverflow.com", "pkg.go.dev"}),
	}, map[string]string{
		"codeSearchKey":      creds.CodeSearch,
		"qaForumKey":         creds.QAForum,
		"packageRegistryKey": creds.PackageRegistry,
		"generalSearchKey":   creds.GeneralSearch,
	}, fetcher, st)

	docs := specialist.New("docs", "docs", []specialist.Tool{
		backends.NewEncyclopedia(base, creds.Encyclopedia),
		backends.NewPaperIndex(base, creds.PaperIndex),
		backends.NewDiscussionForum(base, creds.DiscussionForum),
		backends.NewVendorDocs(base, creds.VendorDocs),
		backends.NewRestrictedFallback(base, creds.GeneralSearch, []string{"docs.microsoft.com", "developer.mozilla.org"}),
	}, map[string]string{
		"encyclopediaKey":    creds.Encyclopedia,
		"paperIndexKey":      creds.PaperIndex,
		"discussionForumKey": creds.DiscussionForum,
		"vendorDocsKey":      creds.VendorDocs,
		"generalSearchKey":   creds.GeneralSearch,
	}, fetcher, st)

	for _, sp := range []*specialist.Specialist{web, code, docs} {
		if err := reg.Register(sp); err != nil {
			log.Printf("[Main] failed to register specialist %s: %v", sp.Name(), err)
		}
	}
	return reg
}

// pruneIdleSessions periodically clears session state that has gone quiet,
// bounding the tracker's memory to active conversations.
func pruneIdleSessions(ctx context.Context, sessions *session.Tracker) {
	const idleTTL = 2 * 60 * 60 * 1000 // 2 hours, matches the tracker's millisecond windows
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.PruneInactive(idleTTL); n > 0 {
				log.Printf("[Main] pruned %d idle sessions", n)
			}
		}
	}
}
