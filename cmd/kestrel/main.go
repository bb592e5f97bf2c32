// Kestrel - entity resolution and relationship analysis for
// government spending data.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/api"
	"github.com/openaudit/kestrel/internal/bus"
	"github.com/openaudit/kestrel/internal/cache"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/match"
	"github.com/openaudit/kestrel/internal/rules"
	"github.com/openaudit/kestrel/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "kestrel",
		Short:        "Fraud signal detection over government spending data",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(runCmd(), alertsCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and initializes the default logger.
// KESTREL_CONFIG supplies the config path when the flag is absent and
// KESTREL_DEBUG=true forces debug logging.
func loadConfig() (*domain.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("KESTREL_CONFIG")
	}
	cfg, err := domain.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))

	return cfg, nil
}

// app bundles the wired infrastructure for one command invocation.
type app struct {
	cfg   *domain.Config
	store *store.SQLStore
	cache domain.Cache
	bus   domain.EventBus
}

func (a *app) Close() {
	a.bus.Close()
	a.cache.Close()
	a.store.Close()
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		st.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	slog.Info("infrastructure initialized",
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	return &app{cfg: cfg, store: st, cache: cacheImpl, bus: busImpl}, nil
}

// newOrchestrator builds the rule set and orchestrator from the app wiring.
func newOrchestrator(a *app) (*rules.Orchestrator, error) {
	ruleSet, err := rules.Builtin(a.cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule set: %w", err)
	}

	alertEngine := alerts.NewEngine(a.store, a.bus, slog.Default())
	matcher := match.NewEngine(a.cfg.Detection.MatchBatchSize, a.cfg.Detection.MatchWorkers)
	deps := rules.NewDeps(a.store, alertEngine, matcher, a.cfg.Detection.Thresholds, a.cache, slog.Default())

	return rules.NewOrchestrator(deps, ruleSet, a.cfg.Detection.MaxWorkers, a.bus, slog.Default()), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var (
		ruleName string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection rules and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if workers > 0 {
				a.cfg.Detection.MaxWorkers = workers
			}

			o, err := newOrchestrator(a)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			var summary domain.RunSummary
			if ruleName != "" {
				summary, err = o.RunOne(ctx, ruleName)
				if err != nil {
					return err
				}
			} else {
				summary = o.RunAll(ctx)
			}

			printSummary(cmd.OutOrStdout(), summary)
			if summary.Failed > 0 {
				return fmt.Errorf("%d rule(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleName, "rule", "", "run a single rule by name")
	cmd.Flags().IntVar(&workers, "workers", 0, "override the detection worker count")
	return cmd
}

func printSummary(out io.Writer, summary domain.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tSTATUS\tALERTS\tDURATION\tERROR")
	for _, task := range summary.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			task.RuleName, task.Status, task.AlertCount,
			task.Duration().Round(time.Millisecond), task.Error)
	}
	w.Flush()

	fmt.Fprintf(out, "\nrun %s: %d alerts, %d succeeded, %d failed in %s\n",
		summary.RunID, summary.TotalAlerts, summary.Succeeded, summary.Failed,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}

func alertsCmd() *cobra.Command {
	var (
		status   string
		severity string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List stored alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			found, err := a.store.ListAlerts(ctx, domain.AlertFilter{
				Status:   domain.AlertStatus(status),
				Severity: domain.AlertSeverity(severity),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tSTATUS\tENTITY\tCREATED\tTITLE")
			for _, alert := range found {
				entity := ""
				if alert.EntityKind != "" {
					entity = fmt.Sprintf("%s/%d", alert.EntityKind, alert.EntityID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					alert.ID, alert.AlertType, alert.Severity, alert.Status,
					entity, alert.CreatedAt.Format("2006-01-02 15:04"), alert.Title)
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d alert(s)\n", len(found))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum alerts to list")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp()
			if err != nil {
				return err
			}
			defer a.Close()

			handler := api.NewHandler(a.store, a.cache, a.bus, a.cfg.Detection, Version, slog.Default())
			server := api.NewServer(a.cfg.Server, handler)

			ctx, cancel := signalContext()
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				slog.Info("api server starting",
					"host", a.cfg.Server.Host,
					"port", a.cfg.Server.Port,
					"version", Version,
				)
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-ctx.Done():
				slog.Info("shutting down api server")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
