package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/branchline/internal/agent"
	"github.com/branchline/internal/api"
	"github.com/branchline/internal/config"
	"github.com/branchline/internal/database"
	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/jobqueue"
	"github.com/branchline/internal/logging"
	"github.com/branchline/internal/queue"
	"github.com/branchline/internal/registry"
	"github.com/branchline/internal/retry"
	"github.com/branchline/internal/runtime"
	"github.com/branchline/internal/store"
	"github.com/branchline/internal/tools"
)

const shutdownTimeout = 15 * time.Second

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Branchline API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "memory",
				Usage: "Keep all state in memory instead of PostgreSQL",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply database migrations before serving",
				Value: true,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	closer, err := logging.Setup(logging.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, db, err := openStore(ctx, cfg, c.Bool("memory"), c.Bool("migrate"))
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	events := eventlog.New(st,
		eventlog.WithBufferSize(cfg.Runtime.SubscriberBuffer),
		eventlog.WithPageLimits(cfg.Runtime.PageLimit, cfg.Runtime.MaxPageLimit),
	)
	reg := registry.New(st, events)
	q := queue.NewManager(st, events)

	toolReg, err := tools.NewRegistry(tools.NewAskUser())
	if err != nil {
		return err
	}
	a, err := agent.New(ctx, agent.ConnectorOptions{
		Provider: agent.Provider(cfg.Agent.Provider),
		Model:    cfg.Agent.Model,
		APIKey:   cfg.Agent.APIKey,
		BaseURL:  cfg.Agent.BaseURL,
	}, toolReg.Specs(), agent.LLMOptions{
		SystemPrompt:      cfg.Agent.SystemPrompt,
		Temperature:       cfg.Agent.Temperature,
		MaxTokens:         cfg.Agent.MaxTokens,
		MaxSteps:          cfg.Agent.MaxSteps,
		RequestsPerMinute: cfg.Agent.RequestsPerMinute,
		Retry:             retry.ModelConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctrl := runtime.New(st, events, q, a, toolReg, runtime.Options{RunTimeout: cfg.Runtime.RunTimeout})
	if n, err := ctrl.RecoverOrphanedRuns(ctx); err != nil {
		log.Error().Err(err).Msg("Startup orphaned-run recovery failed")
	} else if n > 0 {
		log.Warn().Int("runs", n).Msg("Recovered orphaned runs left by a previous process")
	}

	var jobs *jobqueue.JobQueue
	if cfg.Jobs.Enabled && db != nil {
		jobs, err = jobqueue.NewJobQueue(ctx, cfg.Database.URL, ctrl, &jobqueue.QueueConfig{
			MaxWorkers:       cfg.Jobs.MaxWorkers,
			RecoveryInterval: cfg.Jobs.RecoveryInterval,
		})
		if err != nil {
			return err
		}
		if err := jobs.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
	}

	server := api.NewServer(cfg.Server.Port, api.Deps{
		Registry:   reg,
		Queue:      q,
		Controller: ctrl,
		Events:     events,
		Auth: api.AuthConfig{
			JWTSecret:       cfg.Server.JWTSecret,
			AllowDevHeaders: cfg.Server.AllowDevHeaders,
		},
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err = <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("API server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("API server shutdown failed")
	}
	if jobs != nil {
		if jerr := jobs.Stop(shutdownCtx); jerr != nil {
			log.Error().Err(jerr).Msg("Job queue shutdown failed")
		}
	}
	if cerr := ctrl.Close(shutdownCtx); cerr != nil {
		log.Error().Err(cerr).Msg("Runtime shutdown timed out")
	}
	return err
}

// openStore returns the PostgreSQL store, or the in-memory store when memory
// is set or no database is configured. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg *config.Config, memory, migrate bool) (store.Store, *sql.DB, error) {
	if memory {
		log.Warn().Msg("Using in-memory store; state is lost on exit")
		return store.NewInMemoryStore(), nil, nil
	}

	url := cfg.Database.URL
	if url == "" {
		log.Warn().Msg("No database configured; using in-memory store")
		return store.NewInMemoryStore(), nil, nil
	}

	db, err := database.NewDB(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if _, err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		if _, err := jobqueue.Migrate(ctx, url); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return store.NewPostgresStore(db), db, nil
}

func loadValidConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
