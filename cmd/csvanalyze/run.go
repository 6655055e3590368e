package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appanalysis "github.com/bryanwahyu/healthdash/internal/application/analysis"
	"github.com/bryanwahyu/healthdash/internal/config"
	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
	"github.com/bryanwahyu/healthdash/internal/infra/db"
	"github.com/bryanwahyu/healthdash/internal/infra/executor/process"
	"github.com/bryanwahyu/healthdash/internal/infra/logging"
)

var (
	runCleaning    string
	runFilters     string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Analyze one or more CSV files",
	Long: `Analyze each file with the configured engine and print one JSON line
per file, in argument order:

  {"file": "...", "result": <report>}
  {"file": "...", "error": "...", "exitCode": 1, "stderr": "..."}

The command fails if any analysis failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	runCmd.Flags().StringVar(&runCleaning, "cleaning", "", "cleaning options as a JSON object")
	runCmd.Flags().StringVar(&runFilters, "filters", "", "filters as a JSON object")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 2, "files analyzed in parallel")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cleaning, err := parseOptions("cleaning", runCleaning)
	if err != nil {
		return err
	}
	filters, err := parseOptions("filters", runFilters)
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, "console")
	ctx := logger.WithContext(cmd.Context())

	svc := appanalysis.NewService(process.NewRunner(cfg.Analysis.Interpreter, cfg.Analysis.Timeout), cfg.Analysis.Script)
	runs, pool, err := db.OpenRunRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	svc.Runs = runs

	return analyzeFiles(ctx, svc, args, cleaning, filters, runConcurrency, cmd.OutOrStdout())
}

func parseOptions(name, raw string) (domain.Options, error) {
	if raw == "" {
		return nil, nil
	}
	var o domain.Options
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, errors.Wrapf(err, "--%s must be a JSON object", name)
	}
	return o, nil
}

type fileOutcome struct {
	File     string         `json:"file"`
	Result   *domain.Result `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	ExitCode *int           `json:"exitCode,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
}

// analyzeFiles runs the files with at most concurrency engines at once and
// writes the outcomes in input order. Per-file failures do not stop the
// others.
func analyzeFiles(ctx context.Context, svc *appanalysis.Service, files []string, cleaning, filters domain.Options, concurrency int, out io.Writer) error {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]fileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, file := range files {
		g.Go(func() error {
			res, err := svc.Analyze(gctx, appanalysis.AnalyzeCommand{
				FileRef:  domain.FileReference(file),
				Cleaning: cleaning,
				Filters:  filters,
			})
			outcomes[i] = outcome(file, res, err)
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(out)
	failed := 0
	for _, o := range outcomes {
		if o.Result == nil {
			failed++
		}
		if err := enc.Encode(o); err != nil {
			return errors.Wrap(err, "write output")
		}
	}
	if failed > 0 {
		return errors.Newf("%d of %d analyses failed", failed, len(files))
	}
	return nil
}

func outcome(file string, res domain.Result, err error) fileOutcome {
	o := fileOutcome{File: file}
	if err == nil {
		o.Result = &res
		return o
	}
	o.Error = err.Error()
	var failure *domain.InvocationFailure
	if errors.As(err, &failure) {
		code := failure.ExitCode
		o.ExitCode = &code
		o.Stderr = failure.Stderr
	}
	return o
}
