package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/chatsim/joinsync/internal/api/http"
	appParticipant "github.com/chatsim/joinsync/internal/application/participant"
	appRoster "github.com/chatsim/joinsync/internal/application/roster"
	appScenario "github.com/chatsim/joinsync/internal/application/scenario"
	appSession "github.com/chatsim/joinsync/internal/application/session"
	"github.com/chatsim/joinsync/internal/config"
	"github.com/chatsim/joinsync/internal/domain/admin"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
	"github.com/chatsim/joinsync/internal/infrastructure/feedhub"
	"github.com/chatsim/joinsync/internal/infrastructure/memstore"
	"github.com/chatsim/joinsync/internal/infrastructure/postgres"
	"github.com/chatsim/joinsync/internal/infrastructure/scenariofile"
	"github.com/chatsim/joinsync/internal/migrations"
)

const countdownBatch = 50

type stores struct {
	sessions     session.Repository
	participants participant.Repository
	scenarios    scenario.Repository
	close        func()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		hashKey(os.Args[2:])
		return
	}

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := zerolog.New(os.Stdout).Level(config.ParseLevel(cfg.LogLevel)).With().Timestamp().Logger()

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("store setup failed")
	}
	defer st.close()

	verifier, err := admin.NewVerifier(cfg.AdminKeyHash)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ADMIN_KEY_HASH")
	}

	// infrastructure
	hub := feedhub.NewHub(logger)

	// services
	rosterSvc := appRoster.NewService(st.participants, hub, logger)
	scenarioSvc := appScenario.NewService(st.scenarios, logger)
	sessionSvc := appSession.NewService(st.sessions, st.scenarios, st.participants, rosterSvc, hub, logger)
	participantSvc := appParticipant.NewService(st.participants, st.sessions, st.scenarios, rosterSvc, hub, logger)

	if cfg.ScenarioDir != "" {
		list, err := scenariofile.LoadDir(os.DirFS(cfg.ScenarioDir))
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.ScenarioDir).Msg("scenario seed failed")
		}
		n, err := scenarioSvc.Seed(ctx, list)
		if err != nil {
			logger.Fatal().Err(err).Int("seeded", n).Msg("scenario seed failed")
		}
		logger.Info().Int("scenarios", n).Str("dir", cfg.ScenarioDir).Msg("scenarios seeded")
	}

	// API server
	apiServer := httpapi.NewServer(sessionSvc, participantSvc, scenarioSvc, rosterSvc, hub, verifier, logger, httpapi.Options{
		StreamBuffer:    cfg.StreamBuffer,
		StreamKeepAlive: cfg.StreamKeepAlive,
	})

	// Streams are long-lived, so no WriteTimeout.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// background loops
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.CountdownSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := sessionSvc.ProcessDueCountdowns(sweepCtx, countdownBatch); err != nil && sweepCtx.Err() == nil {
					logger.Error().Err(err).Msg("countdown sweep failed")
				}
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")
	stopSweep()
	// Ending the subscriptions first lets stream handlers return.
	hub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

func openStores(ctx context.Context, cfg *config.Server, logger zerolog.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn().Msg("using in-memory store, records are lost on restart")
		m := memstore.New()
		return &stores{
			sessions:     m.Sessions(),
			participants: m.Participants(),
			scenarios:    m.Scenarios(),
			close:        func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return &stores{
		sessions:     postgres.NewSessionRepository(pool),
		participants: postgres.NewParticipantRepository(pool),
		scenarios:    postgres.NewScenarioRepository(pool),
		close:        pool.Close,
	}, nil
}

// hashKey prints the bcrypt hash for ADMIN_KEY_HASH.
func hashKey(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: server hash-key <admin-key>")
		os.Exit(2)
	}
	hash, err := admin.HashKey(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash-key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
