package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-resolver/internal/evaluate"
	"github.com/sells-group/contact-resolver/internal/ingest"
	"github.com/sells-group/contact-resolver/internal/oracle"
	"github.com/sells-group/contact-resolver/internal/storage"
)

var (
	evalContacts  string
	evalLabels    string
	evalSample    int
	evalSeed      int64
	evalOutput    string
	evalTopErrors int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the match oracle against labeled pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("evaluate"); err != nil {
			return err
		}
		if evalContacts == "" || evalLabels == "" {
			return eris.New("evaluate: --contacts and --labels are required")
		}

		env, err := initOracle(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := runEvaluation(ctx, newStorage(cfg), env.Adapter)
		if err != nil {
			return err
		}

		printReport(os.Stdout, report)
		return nil
	},
}

// runEvaluation loads the inputs, scores o, and writes the report.
func runEvaluation(ctx context.Context, store *storage.Storage, o oracle.Oracle) (*evaluate.Report, error) {
	contacts, err := ingest.NewLoader(store).Load(ctx, evalContacts, ingest.FormatAuto)
	if err != nil {
		return nil, err
	}
	raw, err := store.ReadAll(ctx, evalLabels)
	if err != nil {
		return nil, eris.Wrap(err, "evaluate: read labels")
	}
	labels, err := evaluate.DecodeLabels(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var opts []evaluate.Option
	opts = append(opts, evaluate.WithBatchSize(cfg.Pipeline.BatchSize))
	if evalSample > 0 {
		opts = append(opts, evaluate.WithSample(evalSample, evalSeed))
	}
	report, err := evaluate.New(o, opts...).Evaluate(ctx, contacts, labels)
	if err != nil {
		return nil, err
	}

	out := *report
	out.Errors = report.TopErrors(evalTopErrors)
	if err := writeJSON(ctx, store, evalOutput, out); err != nil {
		return nil, err
	}
	return report, nil
}

// printReport writes the oracle and baseline scores side by side.
func printReport(w io.Writer, r *evaluate.Report) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Evaluation ==="))

	m, b := r.Metrics, r.Baseline
	fmt.Fprintf(w, "  %-12s %8s %8s\n", "", "oracle", "baseline")
	fmt.Fprintf(w, "  %-12s %8.4f %8.4f\n", "precision", m.Precision, b.Precision)
	fmt.Fprintf(w, "  %-12s %8.4f %8.4f\n", "recall", m.Recall, b.Recall)
	fmt.Fprintf(w, "  %-12s %8.4f %8.4f\n", "f1", m.F1Score, b.F1Score)
	fmt.Fprintf(w, "  %-12s %8.4f %8.4f\n\n", "accuracy", m.Accuracy, b.Accuracy)

	improvement := color.New(color.FgGreen)
	if r.Improvement < 0 {
		improvement = color.New(color.FgRed, color.Bold)
	}
	fmt.Fprintf(w, "F1 improvement over baseline: %s\n", improvement.Sprintf("%+.4f", r.Improvement))
	fmt.Fprintf(w, "Errors: %d  Failed: %d  Skipped labels: %d\n\n", len(r.Errors), r.Failed, len(r.Skipped))
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evalContacts, "contacts", "", "contacts file or s3:// URI")
	f.StringVar(&evalLabels, "labels", "", "labeled pairs JSON file or s3:// URI")
	f.IntVar(&evalSample, "sample", 0, "evaluate a random sample of N labels (0 = all)")
	f.Int64Var(&evalSeed, "seed", 42, "sampling seed")
	f.StringVarP(&evalOutput, "output", "o", "evaluation_report.json", "report destination")
	f.IntVar(&evalTopErrors, "top-errors", 20, "misclassified pairs to include in the report")
	rootCmd.AddCommand(evaluateCmd)
}
