package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/config"
	"github.com/sells-group/contact-resolver/internal/ingest"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/pipeline"
	"github.com/sells-group/contact-resolver/internal/resilience"
	"github.com/sells-group/contact-resolver/internal/storage"
	"github.com/sells-group/contact-resolver/pkg/salesforce"
)

var (
	dedupeInput        string
	dedupeFormat       string
	dedupeSalesforce   bool
	dedupeSFAccount    string
	dedupeSFLimit      int
	dedupeOutput       string
	dedupeStats        string
	dedupeFailures     string
	dedupeFailuresType string
	dedupeThreshold    float64
	dedupeBatchSize    int
	dedupeConcurrency  int
	dedupeSummary      bool
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Deduplicate a contact list",
	Long:  "Reads contacts from a file, s3:// URI, stdin, or Salesforce, merges records the oracle judges to be the same person, and writes the merged list and run statistics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyDedupeFlags(cmd, cfg)
		if err := cfg.Validate("dedupe"); err != nil {
			return err
		}
		if dedupeInput == "" && !dedupeSalesforce {
			return eris.New("dedupe: --input or --salesforce is required")
		}

		store := newStorage(cfg)
		records, err := loadContacts(ctx, store)
		if err != nil {
			return err
		}

		env, err := initOracle(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		p := pipeline.New(env.Adapter, pipelineOptions(cfg, env.Adapter.Rules()))
		// The scan honours cancellation itself and returns a partial result,
		// so outputs are still written after Ctrl-C.
		result, err := p.Deduplicate(ctx, records)
		if err != nil {
			return err
		}

		// Writes must outlive the interrupt that ended the scan.
		wctx := context.WithoutCancel(ctx)
		if err := writeJSON(wctx, store, dedupeOutput, result.Output()); err != nil {
			return err
		}
		if err := writeJSON(wctx, store, dedupeStats, result.Stats); err != nil {
			return err
		}
		failures := resilience.FailureFilter{ErrorType: dedupeFailuresType}.Apply(result.Failures())
		if dedupeFailures != "" && len(failures) > 0 {
			if err := writeJSON(wctx, store, dedupeFailures, failures); err != nil {
				return err
			}
		}

		zap.L().Info("dedupe: outputs written",
			zap.String("output", dedupeOutput),
			zap.String("stats", dedupeStats),
			zap.Int("failures", len(failures)),
		)

		newAlerter(cfg).Check(wctx, result.Stats)

		if dedupeSummary {
			printSummary(os.Stderr, result)
		}
		if result.Stats.Interrupted {
			return eris.New("dedupe: interrupted; partial results written")
		}
		return nil
	},
}

// applyDedupeFlags overlays explicitly set flags on the loaded config.
func applyDedupeFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("threshold") {
		c.Pipeline.ConfidenceThreshold = dedupeThreshold
	}
	if f.Changed("batch-size") {
		c.Pipeline.BatchSize = dedupeBatchSize
	}
	if f.Changed("concurrency") {
		c.Pipeline.Concurrency = dedupeConcurrency
	}
}

func newStorage(c *config.Config) *storage.Storage {
	return storage.New(storage.Config{
		Region:    c.Storage.Region,
		Endpoint:  c.Storage.Endpoint,
		PathStyle: c.Storage.PathStyle,
	})
}

// loadContacts reads records from Salesforce when requested, else from
// --input.
func loadContacts(ctx context.Context, store *storage.Storage) ([]model.Record, error) {
	if dedupeSalesforce {
		client, err := connectSalesforce(cfg)
		if err != nil {
			return nil, err
		}
		return ingest.LoadSalesforce(ctx, client, salesforce.ContactFilter{
			AccountID: dedupeSFAccount,
			Limit:     dedupeSFLimit,
		})
	}

	format, err := ingest.ParseFormat(dedupeFormat)
	if err != nil {
		return nil, err
	}
	return ingest.NewLoader(store).Load(ctx, dedupeInput, format)
}

func connectSalesforce(c *config.Config) (salesforce.Client, error) {
	if c.Salesforce.KeyPath == "" {
		return nil, eris.New("salesforce: salesforce.key_path is required")
	}
	key, err := os.ReadFile(c.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "salesforce: read private key")
	}
	return salesforce.Connect(salesforce.Creds{
		LoginURL:      c.Salesforce.LoginURL,
		Username:      c.Salesforce.Username,
		ClientID:      c.Salesforce.ClientID,
		PrivateKeyPEM: string(key),
	}, salesforce.WithRateLimit(c.Salesforce.RateLimitRPS))
}

// writeJSON writes v as indented JSON to location.
func writeJSON(ctx context.Context, store *storage.Storage, location string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "encode %s", location)
	}
	data = append(data, '\n')
	return store.Write(ctx, location, data)
}

func init() {
	f := dedupeCmd.Flags()
	f.StringVarP(&dedupeInput, "input", "i", "", "contacts file, s3:// URI, or - for stdin")
	f.StringVar(&dedupeFormat, "format", "", "input format: json, xlsx, or csv (default from extension)")
	f.BoolVar(&dedupeSalesforce, "salesforce", false, "read contacts from Salesforce instead of --input")
	f.StringVar(&dedupeSFAccount, "sf-account", "", "restrict Salesforce contacts to one account ID")
	f.IntVar(&dedupeSFLimit, "sf-limit", 0, "maximum Salesforce contacts to read (0 = all)")
	f.StringVarP(&dedupeOutput, "output", "o", "deduplicated_contacts.json", "merged contacts destination")
	f.StringVar(&dedupeStats, "stats", "deduplication_stats.json", "run statistics destination")
	f.StringVar(&dedupeFailures, "failures", "", "write undecided comparisons here")
	f.StringVar(&dedupeFailuresType, "failures-type", "", "only report failures of this type: transient or permanent")
	f.Float64Var(&dedupeThreshold, "threshold", 0, "minimum confidence to accept a match (default from config)")
	f.IntVar(&dedupeBatchSize, "batch-size", 0, "pairs per oracle call (default from config)")
	f.IntVar(&dedupeConcurrency, "concurrency", 0, "concurrent oracle calls (default from config)")
	f.BoolVar(&dedupeSummary, "summary", false, "print a human-readable summary to stderr")
	rootCmd.AddCommand(dedupeCmd)
}
