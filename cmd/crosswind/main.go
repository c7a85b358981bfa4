// Command crosswind operates the cross-domain correlation engine: ingest
// normalized payloads, link entities, run correlation analyses, monitor a
// record stream, build the vector index, and query it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mkendrick/crosswind/internal/alerts"
	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/correlate"
	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/embed"
	"github.com/mkendrick/crosswind/internal/link"
	"github.com/mkendrick/crosswind/internal/logging"
	"github.com/mkendrick/crosswind/internal/normalize"
	"github.com/mkendrick/crosswind/internal/retrieval"
	"github.com/mkendrick/crosswind/internal/store"
)

var (
	dbPath     string
	localEmbed bool
)

func main() {
	// Credentials may live in a .env next to the binary; absence is fine.
	godotenv.Load()

	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logging init: %v\n", err)
	}
	defer logging.Close()

	home, _ := os.UserHomeDir()
	defaultDB := filepath.Join(home, ".crosswind", "crosswind.db")

	rootCmd := &cobra.Command{
		Use:   "crosswind",
		Short: "Cross-domain correlation discovery engine",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "database path")
	rootCmd.PersistentFlags().BoolVar(&localEmbed, "local-embed", false, "use the deterministic local embedder instead of the hosted provider")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.Open(dbPath)
}

func getConfig() (*config.Config, error) {
	cfg := config.Default()
	cfg.PopulateFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEmbedder(cfg *config.Config) embed.Embedder {
	if localEmbed || cfg.EmbedAPIKey == "" {
		return embed.NewLocalEmbedder(256)
	}
	return embed.NewJinaEmbedder(cfg.EmbedAPIKey, cfg.EmbeddingModel, cfg.EmbedEndpoint, cfg.MaxRetries)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so
// long-running analyses stop between units of work.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func ingestCmd() *cobra.Command {
	var domainName string

	cmd := &cobra.Command{
		Use:   "ingest [file.json...]",
		Short: "Normalize and store raw domain payloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.Domain(domainName)
			if !d.Valid() {
				return fmt.Errorf("unknown domain %q (expected one of %v)", domainName, domain.Domains)
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			payloads := make([]normalize.RawPayload, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				payloads = append(payloads, normalize.RawPayload{Domain: d, Payload: json.RawMessage(data)})
			}

			res := normalize.Batch(payloads)
			for _, err := range res.Errors {
				fmt.Fprintf(os.Stderr, "skipped: %v\n", err)
			}

			saved, err := s.SaveRecords(res.Records)
			if err != nil {
				return err
			}
			fmt.Printf("Normalized %d record(s), %d new, %d rejected\n", len(res.Records), saved, len(res.Errors))
			return nil
		},
	}

	cmd.Flags().StringVar(&domainName, "domain", "", "source domain of the payloads (required)")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Run the entity linker over all stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.GetRecords("", 100000)
			if err != nil {
				return err
			}

			res := link.Run(records, cfg)
			for _, err := range res.Errors {
				fmt.Fprintf(os.Stderr, "identity conflict: %v\n", err)
			}
			if err := s.SaveLinks(res.Links); err != nil {
				return err
			}
			fmt.Printf("Batch %s: %d link(s) across %d record(s)\n", res.BatchID, len(res.Links), len(records))
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run a batch correlation analysis over all stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			engine, err := correlate.NewEngine(cfg, s)
			if err != nil {
				return err
			}

			records, err := s.GetRecords("", 100000)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			run, err := engine.Analyze(ctx, records)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: %d pair(s) tested, %d excluded\n", run.RunID, len(run.Results), len(run.Exclusions))
			for _, r := range run.Results {
				marker := " "
				if r.Significant {
					marker = "*"
				}
				fmt.Printf("%s %-60s r=%+.3f adj_p=%.4g n=%d\n", marker, r.VariablePairID, r.Coefficient, r.AdjustedPValue, r.SampleSize)
			}
			for _, e := range run.Exclusions {
				fmt.Printf("  excluded %s: %s (%s)\n", e.VariablePairID, e.Reason, e.Detail)
			}
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	var domainName string
	var interval time.Duration
	var alertLog string

	cmd := &cobra.Command{
		Use:   "monitor [file.json]",
		Short: "Feed a stream of payload files through the real-time monitor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.Domain(domainName)
			if !d.Valid() {
				return fmt.Errorf("unknown domain %q (expected one of %v)", domainName, domain.Domains)
			}

			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ring := alerts.NewRingSink(alerts.DefaultRingSize)
			sink := alerts.Fan{
				correlate.AlertFunc(func(a domain.CorrelationAlert) {
					fmt.Printf("ALERT %s: coefficient moved %+.3f -> %+.3f (delta %.3f, n=%d)\n",
						a.VariablePairID, a.Previous, a.Current, a.Delta, a.SampleSize)
				}),
				ring,
			}
			if alertLog != "" {
				jl, err := alerts.NewJSONLSink(alertLog)
				if err != nil {
					return err
				}
				defer jl.Close()
				sink = append(sink, jl)
			}

			mon, err := correlate.NewMonitor(cfg, s, sink)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				res := normalize.Batch([]normalize.RawPayload{{Domain: d, Payload: json.RawMessage(data)}})
				for _, err := range res.Errors {
					fmt.Fprintf(os.Stderr, "skipped: %v\n", err)
				}
				// The file path identifies the batch, so re-feeding the
				// same file is a no-op.
				if err := mon.Ingest(ctx, path, res.Records); err != nil {
					return err
				}
				if interval > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(interval):
					}
				}
			}
			fmt.Printf("Processed %d batch(es), %d alert(s)\n", len(args), len(ring.Recent(alerts.DefaultRingSize)))
			return nil
		},
	}

	cmd.Flags().StringVar(&domainName, "domain", "", "source domain of the payloads (required)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between batches")
	cmd.Flags().StringVar(&alertLog, "alert-log", "", "append alerts as JSON lines to this file")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Embed stored records and correlation results for retrieval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ix := retrieval.NewIndexer(s, getEmbedder(cfg))

			ctx, cancel := signalContext()
			defer cancel()

			records, err := s.GetRecords("", 100000)
			if err != nil {
				return err
			}
			recStats, err := ix.IndexRecords(ctx, records)
			if err != nil {
				return err
			}

			results, err := s.GetResults(store.ResultFilter{Limit: 100000})
			if err != nil {
				return err
			}
			resStats, err := ix.IndexResults(ctx, results)
			if err != nil {
				return err
			}

			fmt.Printf("Records: %d embedded, %d already indexed\n", recStats.Embedded, recStats.Skipped)
			fmt.Printf("Results: %d embedded, %d already indexed\n", resStats.Embedded, resStats.Skipped)
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Answer a natural-language question from indexed correlations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rt := retrieval.NewRetriever(s, getEmbedder(cfg))

			ctx, cancel := signalContext()
			defer cancel()

			answer, err := rt.AnswerQuery(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			fmt.Println(answer.Answer)
			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 5, "number of correlations to retrieve")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("Records:    %d\n", st.Records)
			fmt.Printf("Links:      %d\n", st.Links)
			fmt.Printf("Runs:       %d\n", st.Runs)
			fmt.Printf("Results:    %d\n", st.Results)
			fmt.Printf("Embeddings: %d\n", st.Embeddings)
			return nil
		},
	}
}
