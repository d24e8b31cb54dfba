package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offline-contest/internal/config"
	"offline-contest/internal/infra/memory"
	pgstore "offline-contest/internal/infra/postgres"
	"offline-contest/internal/logging"
	transport "offline-contest/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	envPort := os.Getenv("PORT")
	if envPort == "" {
		envPort = "8080"
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the contest API locally for end-to-end testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", envPort, "port to listen on")
	return cmd
}

func runServer(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		applied, err := pgstore.Migrate(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		log.Info("migrations applied", zap.Strings("migrations", applied))
	}

	finalPort := opts.port
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		contests transport.ContestSource = memory.NewStaticContestLoader(map[string]json.RawMessage{"demo": memory.DemoContest()})
		results  transport.ResultSink    = memory.NewFinalResultStore()
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader := pgstore.NewContestLoader(pool)
		if _, err := loader.FetchContest(ctx, "demo"); err != nil {
			if err := loader.SaveContest(ctx, "demo", memory.DemoContest()); err != nil {
				return err
			}
		}
		contests = loader
		results = pgstore.NewFinalResultRepository(pool)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewAPIHandler(contests, results, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting contest api", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
