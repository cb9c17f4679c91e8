// Command qd-server serves the quiz backend over HTTP on PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/quizdeck/internal/config"
	"github.com/and161185/quizdeck/internal/limiter"
	"github.com/and161185/quizdeck/internal/logging"
	"github.com/and161185/quizdeck/internal/migrate"
	"github.com/and161185/quizdeck/internal/repository/postgres"
	"github.com/and161185/quizdeck/internal/server/httpapi"
	"github.com/and161185/quizdeck/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "qd-server:", err)
		os.Exit(1)
	}
}

// serverFlags registers one flag per server setting. Only flags given on the
// command line override the file and environment.
func serverFlags() (*pflag.FlagSet, *string) {
	def := config.DefaultServer()
	fs := pflag.NewFlagSet("qd-server", pflag.ContinueOnError)
	cfgFile := fs.StringP("config", "c", "", "YAML config file")
	fs.String("addr", def.Addr, "listen address")
	fs.String("dsn", def.DSN, "PostgreSQL DSN")
	fs.String("api-key", "", "shared API key (required)")
	fs.StringSlice("cors-origins", nil, "allowed browser origins (default any)")
	fs.String("tls-cert", "", "TLS certificate (PEM)")
	fs.String("tls-key", "", "TLS private key (PEM)")
	fs.Int("max-batch", def.MaxBatch, "max rows per bulkupsert")
	fs.Int("results-limit", def.ResultsLimit, "max results per listing")
	fs.Duration("shutdown-timeout", def.ShutdownTimeout, "graceful shutdown timeout")
	fs.Duration("lockout-window", def.Lockout.Window, "bad key counting window")
	fs.Int("lockout-threshold", def.Lockout.Threshold, "bad keys before lockout")
	fs.Duration("lockout-duration", def.Lockout.Duration, "lockout duration")
	fs.String("log-level", def.Log.Level, "debug|info|warn|error")
	fs.String("log-format", def.Log.Format, "console|json")
	fs.String("log-file", "", "rotated JSON log file")
	return fs, cfgFile
}

func run(args []string) error {
	fs, cfgFile := serverFlags()
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadServer(*cfgFile, fs)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	lim := limiter.NewPG(db.Pool, cfg.Lockout.Window, cfg.Lockout.Threshold, cfg.Lockout.Duration)
	keys := service.NewKeyChecker(cfg.APIKey, lim, logger)
	backend := service.NewBackendService(postgres.NewCatalogRepo(db), postgres.NewResultRepo(db), cfg.MaxBatch, cfg.ResultsLimit)

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.New(backend, keys, logger,
		httpapi.WithHealth(db.Ping),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		var err error
		if cfg.TLSCert != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("graceful shutdown timed out", zap.Error(err))
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
