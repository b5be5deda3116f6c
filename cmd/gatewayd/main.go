package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sahyogai/sahyog-gateway/internal/apikey"
	apikeysqlite "github.com/sahyogai/sahyog-gateway/internal/apikey/sqlite"
	"github.com/sahyogai/sahyog-gateway/internal/config"
	"github.com/sahyogai/sahyog-gateway/internal/conversation"
	convpostgres "github.com/sahyogai/sahyog-gateway/internal/conversation/postgres"
	convsqlite "github.com/sahyogai/sahyog-gateway/internal/conversation/sqlite"
	"github.com/sahyogai/sahyog-gateway/internal/httpserver"
	"github.com/sahyogai/sahyog-gateway/internal/identity"
	identpostgres "github.com/sahyogai/sahyog-gateway/internal/identity/postgres"
	identsqlite "github.com/sahyogai/sahyog-gateway/internal/identity/sqlite"
	ledgerasync "github.com/sahyogai/sahyog-gateway/internal/ledger/async"
	ledgersqlite "github.com/sahyogai/sahyog-gateway/internal/ledger/sqlite"
	"github.com/sahyogai/sahyog-gateway/internal/logging"
	"github.com/sahyogai/sahyog-gateway/internal/modelalias"
	aliassqlite "github.com/sahyogai/sahyog-gateway/internal/modelalias/sqlite"
	"github.com/sahyogai/sahyog-gateway/internal/relay"
	"github.com/sahyogai/sahyog-gateway/internal/settings"
	settingssqlite "github.com/sahyogai/sahyog-gateway/internal/settings/sqlite"
	"github.com/sahyogai/sahyog-gateway/internal/tasks"
	"github.com/sahyogai/sahyog-gateway/internal/upstream"
	"github.com/sahyogai/sahyog-gateway/internal/version"
)

func main() {
	cfg, err := config.LoadGatewayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024)
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[gatewayd] ")
	logFlags := log.LstdFlags | log.Lmicroseconds

	log.Printf("sahyog-gateway v%s starting env=%s", version.Version, cfg.Environment)

	ctx := context.Background()

	identityStore, err := openIdentityStore(cfg)
	if err != nil {
		log.Fatalf("open identity store: %v", err)
	}
	defer identityStore.Close()

	conversationStore, err := openConversationStore(cfg)
	if err != nil {
		log.Fatalf("open conversation store: %v", err)
	}
	defer conversationStore.Close()

	aliasStore, err := aliassqlite.New(cfg.GatewaySQLitePath())
	if err != nil {
		log.Fatalf("open alias store: %v", err)
	}
	defer aliasStore.Close()

	settingsStore, err := settingssqlite.New(cfg.GatewaySQLitePath())
	if err != nil {
		log.Fatalf("open settings store: %v", err)
	}
	defer settingsStore.Close()

	keyStore, err := apikeysqlite.New(cfg.GatewaySQLitePath())
	if err != nil {
		log.Fatalf("open apikey store: %v", err)
	}
	defer keyStore.Close()

	ledgerStore, err := ledgersqlite.New(cfg.GatewaySQLitePath())
	if err != nil {
		log.Fatalf("open usage ledger: %v", err)
	}
	usage := ledgerasync.New(ledgerStore, ledgerasync.Config{
		Logger: log.New(log.Writer(), "[async-ledger] ", logFlags),
	})
	defer usage.Close()

	if cfg.AliasSeedFile != "" {
		seed, err := modelalias.LoadSeedFile(cfg.AliasSeedFile)
		if err != nil {
			log.Fatalf("load alias seed: %v", err)
		}
		if err := modelalias.Seed(ctx, aliasStore, seed); err != nil {
			log.Fatalf("seed aliases: %v", err)
		}
		log.Printf("seeded %d model alias(es) from %s", len(seed.Aliases), cfg.AliasSeedFile)
	}

	executor := tasks.New(tasks.Config{
		Logger: log.New(log.Writer(), "[tasks] ", logFlags),
	})
	defer executor.Close()

	client, err := upstream.New(upstream.Config{
		BaseURL:        cfg.UpstreamBaseURL,
		RequestTimeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		log.Fatalf("init upstream client: %v", err)
	}

	poolLogger := log.New(log.Writer(), "[pool] ", logFlags)
	gen := identity.NewGenerator(identityStore, client, poolLogger)
	poolConfig := settings.NewPoolConfigSource(settingsStore, poolLogger)
	pool := identity.NewManager(identityStore, gen, poolConfig, executor, poolLogger)

	convMap := conversation.NewMap(conversationStore, log.New(log.Writer(), "[conversations] ", logFlags))

	rly := relay.New(relay.Config{
		Aliases:       aliasStore,
		Conversations: convMap,
		Pool:          pool,
		Upstream:      client,
		Usage:         usage,
		Runner:        executor,
		Logger:        log.New(log.Writer(), "[relay] ", logFlags),
	})

	httpSrv := httpserver.New(httpserver.Config{
		Relay:         rly,
		Aliases:       aliasStore,
		Pool:          pool,
		Conversations: convMap,
		Usage:         usage,
		Upstream:      client,
		APIKeys:       keyStore,
		AdminKey:      cfg.AdminKey,
		AuthDisabled:  cfg.AuthDisabled,
		Logger:        log.New(log.Writer(), "[gatewayd/http] ", logFlags),
		LogLevel:      cfg.LogLevel,
	})
	if cfg.AuthDisabled {
		log.Printf("authorization disabled: skipping API key validation")
	} else {
		ensureBootstrapKey(ctx, keyStore)
	}

	// Warm the pool before serving.
	executor.Submit("pool.replenish", func(ctx context.Context) error {
		_, err := pool.Replenish(ctx)
		return err
	})

	stopMaintenance := startMaintenance(pool, cfg.CleanupInterval, cfg.PoolCheckInterval)
	defer stopMaintenance()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: streaming responses stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("gateway server listening on %s upstream=%s", addr, cfg.UpstreamBaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openIdentityStore(cfg config.GatewayConfig) (identity.Store, error) {
	if isPostgresDSN(cfg.IdentityDSN) {
		return identpostgres.New(cfg.IdentityDSN)
	}
	return identsqlite.New(cfg.IdentitySQLitePath())
}

func openConversationStore(cfg config.GatewayConfig) (conversation.Store, error) {
	if isPostgresDSN(cfg.ConversationDSN) {
		return convpostgres.New(cfg.ConversationDSN)
	}
	return convsqlite.New(cfg.ConversationSQLitePath())
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ensureBootstrapKey creates and prints a first API key when none exist, so a
// fresh install with auth enabled is usable.
func ensureBootstrapKey(ctx context.Context, store apikey.Store) {
	keys, err := store.List(ctx)
	if err != nil {
		log.Printf("list api keys failed: %v", err)
		return
	}
	if len(keys) > 0 {
		return
	}
	raw := apikey.NewKey()
	if _, err := store.Create(ctx, raw, "bootstrap"); err != nil {
		log.Printf("create bootstrap api key failed: %v", err)
		return
	}
	log.Printf("created bootstrap API key: %s", raw)
}

// startMaintenance runs the periodic pool sweeps. The returned func stops
// both tickers.
func startMaintenance(pool *identity.Manager, cleanupEvery, checkEvery time.Duration) func() {
	done := make(chan struct{})
	go func() {
		cleanup := time.NewTicker(cleanupEvery)
		check := time.NewTicker(checkEvery)
		defer cleanup.Stop()
		defer check.Stop()
		for {
			select {
			case <-cleanup.C:
				if res, err := pool.Cleanup(context.Background()); err != nil {
					log.Printf("pool cleanup failed: %v", err)
				} else if res.Deleted > 0 || res.Errors > 0 {
					log.Printf("pool cleanup deleted=%d errors=%d", res.Deleted, res.Errors)
				}
			case <-check.C:
				if created, err := pool.Replenish(context.Background()); err != nil {
					log.Printf("pool check failed: %v", err)
				} else if created > 0 {
					log.Printf("pool check created=%d", created)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
