// Command qd is the offline-first quiz deck client. Catalog edits and quiz
// results are stored locally first; results are delivered to the backend
// through the outbox whenever it is reachable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/cloud"
	"github.com/and161185/quizdeck/internal/config"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/lease"
	"github.com/and161185/quizdeck/internal/localstore"
	"github.com/and161185/quizdeck/internal/logging"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/outbox"
	"github.com/and161185/quizdeck/internal/reconcile"
	"github.com/and161185/quizdeck/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// outboxLease serializes flushes of every qd process sharing one store.
const outboxLease = "flush"

var errNoBackend = errors.New("no backend configured (set backend_url)")

// app holds what a command needs once the store is open.
type app struct {
	cfgFile string
	cfg     config.Client
	log     *zap.Logger

	db     localstore.Store
	store  *store.Store
	remote *cloud.Client // nil without backend_url
	engine *outbox.Engine
	rec    *reconcile.Reconciler
	rng    *rand.Rand
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := execute(ctx, a, newRootCmd(a))
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "qd:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	def := config.DefaultClient()
	root := &cobra.Command{
		Use:           "qd",
		Short:         "Offline-first quiz decks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" || cmd.Name() == "help" {
				return nil
			}
			return a.open(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file (default "+config.DefaultClientFile()+")")
	pf.String("store", def.Store, "local SQLite store")
	pf.String("backend-url", "", "backend endpoint URL")
	pf.String("api-key", "", "backend API key")
	pf.Duration("request-timeout", def.RequestTimeout, "per request timeout")
	pf.Duration("flush-interval", def.FlushInterval, "background flush period")
	pf.Duration("lease-ttl", def.LeaseTTL, "outbox lease TTL")
	pf.String("log-level", def.Log.Level, "debug|info|warn|error")
	pf.String("log-format", def.Log.Format, "console|json")
	pf.String("log-file", "", "rotated JSON log file")

	root.AddCommand(
		newVersionCmd(),
		newDeckCmd(a),
		newCardCmd(a),
		newTestCmd(a),
		newQuizCmd(a),
		newPracticeCmd(a),
		newOutboxCmd(a),
		newPullCmd(a),
		newPushCmd(a),
		newSyncCmd(a),
		newResultsCmd(a),
		newArchiveCmd(a),
		newDeleteCmd(a),
		newReportCmd(a),
		newMissedCmd(a),
		newMineCmd(a),
		newLocationsCmd(a),
	)
	return root
}

// execute runs root and releases the store whatever the outcome.
func execute(ctx context.Context, a *app, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the client version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qd %s (%s)\n", version, buildDate)
		},
	}
}

// open loads the configuration and wires the store, outbox and reconciler.
func (a *app) open(cmd *cobra.Command) (err error) {
	ctx := cmd.Context()
	a.remote, a.rec = nil, nil
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()
	path, mustExist := a.cfgFile, a.cfgFile != ""
	if path == "" {
		path = config.DefaultClientFile()
	}
	cfg, err := config.LoadClient(path, mustExist, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = logging.New(cfg.Log, cmd.ErrOrStderr()); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store), 0o700); err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	db, err := localstore.OpenSQLite(ctx, cfg.Store)
	if err != nil {
		return err
	}
	a.db = db
	if a.store, err = store.Open(ctx, a.db, a.log.Named("store")); err != nil {
		return err
	}
	if rep, err := a.store.MergeDuplicates(ctx); err != nil {
		return err
	} else if len(rep.Remap) > 0 {
		a.log.Info("merged duplicate decks", zap.Int("decks", len(rep.Remap)), zap.Int("cards", rep.MovedCards))
	}

	var sender outbox.Sender = noBackend{}
	opts := []outbox.Option{outbox.WithInterval(cfg.FlushInterval)}
	if cfg.BackendURL != "" {
		a.remote, err = cloud.New(cfg.BackendURL, cfg.APIKey,
			cloud.WithTimeout(cfg.RequestTimeout),
			cloud.WithLogger(a.log.Named("cloud")),
		)
		if err != nil {
			return err
		}
		sender = a.remote
		opts = append(opts, outbox.WithProber(a.remote))
		a.rec = reconcile.New(a.store, a.remote, a.log.Named("reconcile"))
	}
	l := lease.New(a.db, outboxLease, store.NewID(), lease.WithTTL(cfg.LeaseTTL))
	a.engine = outbox.New(a.store, sender, l, a.log.Named("outbox"), opts...)

	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return nil
}

func (a *app) close() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// backend returns the reconciler or errNoBackend.
func (a *app) backend() (*reconcile.Reconciler, error) {
	if a.rec == nil {
		return nil, errNoBackend
	}
	return a.rec, nil
}

// noBackend keeps results queued when no backend is configured.
type noBackend struct{}

func (noBackend) Send(context.Context, model.OutboxItem) error {
	return fmt.Errorf("%w: %w", errs.ErrRemote, errNoBackend)
}

// ---- utils ----

func readAll(in io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
