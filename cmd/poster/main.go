package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikequentel/circlegram/internal/cloudlog"
	"github.com/mikequentel/circlegram/internal/config"
	"github.com/mikequentel/circlegram/internal/graph"
	"github.com/mikequentel/circlegram/internal/ledger"
	"github.com/mikequentel/circlegram/internal/model"
	"github.com/mikequentel/circlegram/internal/objectstore"
	"github.com/mikequentel/circlegram/internal/pipeline"
	"github.com/mikequentel/circlegram/internal/render"
	"github.com/mikequentel/circlegram/internal/xpost"
)

type runOptions struct {
	configPath string
	dryRun     bool
	timeout    time.Duration
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := newRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "poster: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	opts := runOptions{}
	root := &cobra.Command{
		Use:           "poster",
		Short:         "Render a grid of circles and post it to Instagram",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPost(cmd.Context(), opts, logger)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("CIRCLEGRAM_CONFIG", "config.json"), "path to config.json or config.yaml")
	addRunFlags(root, &opts)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one posting cycle (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPost(cmd.Context(), opts, logger)
		},
	}
	addRunFlags(run, &opts)

	root.AddCommand(run, newHistoryCmd(&opts))
	return root
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", dryRunFromEnv(), "render and log what would be posted, without network calls")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "upper bound for the whole run")
}

func newHistoryCmd(opts *runOptions) *cobra.Command {
	var (
		limit      int
		ledgerPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := ledgerPath
			if path == "" {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				path = cfg.Ledger()
			}
			if path == "" {
				return fmt.Errorf("ledger is disabled (ledger_path is empty)")
			}
			return printHistory(cmd.Context(), cmd.OutOrStdout(), path, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "sqlite ledger path (defaults to ledger_path from the config)")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func dryRunFromEnv() bool {
	return os.Getenv("DRY_RUN") == "1"
}

func runPost(ctx context.Context, opts runOptions, logger *slog.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	if cfg.CloudLogging.Enabled() && !opts.dryRun {
		cl, err := cloudlog.New(ctx, cfg.CloudLogging.ProjectID, cfg.CloudLogging.LogID, cfg.CredentialsPath(), os.Stderr)
		if err != nil {
			logger.Error("cloud logging unavailable, logging locally only", "project_id", cfg.CloudLogging.ProjectID, "err", err)
		} else {
			defer cl.Close()
			logger = slog.New(cloudlog.NewHandler(logger.Handler(), cl))
		}
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	runner := &pipeline.Runner{
		Render:        func(c render.Config) (render.Image, error) { return render.Render(c, rng) },
		Logger:        logger,
		SkipReadiness: !cfg.Readiness.Polling(),
		Settle:        cfg.Readiness.Settle.Std(),
	}
	if cfg.X.Enabled() {
		runner.Mirror = xpost.New(ctx, xpost.Credentials{
			ConsumerKey:    cfg.X.ConsumerKey,
			ConsumerSecret: cfg.X.ConsumerSecret,
			AccessToken:    cfg.X.AccessToken,
			AccessSecret:   cfg.X.AccessSecret,
		})
	}

	if opts.dryRun {
		_, err := runner.DryRun(ctx, cfg, cfg.PublicURLPrefix)
		return err
	}

	gcs, err := objectstore.NewGCS(ctx, cfg.CredentialsPath())
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageUpload, Err: err}
	}
	defer gcs.Close()
	runner.Uploader = &objectstore.Uploader{Store: gcs, Prefix: cfg.PublicURLPrefix}

	runner.Graph = graph.New(graph.Options{
		BaseURL:      cfg.GraphAPIBase,
		AccessToken:  cfg.AccessToken,
		PollInterval: cfg.Readiness.InitialInterval.Std(),
		PollMaxWait:  cfg.Readiness.MaxWait.Std(),
	})

	if path := cfg.Ledger(); path != "" {
		l, err := ledger.Open(ctx, path)
		if err != nil {
			logger.Error("ledger unavailable, continuing without it", "path", path, "err", err)
		} else {
			defer l.Close()
			runner.Ledger = l
		}
	}

	_, err = runner.Run(ctx, cfg)
	return err
}

func printHistory(ctx context.Context, w io.Writer, path string, limit int) error {
	l, err := ledger.Open(ctx, path)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tNAME\tSTAGE\tPOST\tRESULT")
	for _, r := range runs {
		fmt.Fprintln(tw, formatRun(r))
	}
	return tw.Flush()
}

// formatRun renders one ledger row as a tab separated line.
func formatRun(r model.Run) string {
	result := "ok"
	switch {
	case r.Error != "":
		result = r.Error
	case r.FinishedAt == nil:
		result = "running"
	}
	post := r.PostID
	if post == "" {
		post = "-"
	}
	return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s",
		r.ID, r.StartedAt.Format(time.RFC3339), r.Name, r.Stage, post, result)
}
