package cli

import (
	"fmt"
	"os"

	"github.com/lazypower/hypermem/internal/config"
	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/ingest"
	"github.com/lazypower/hypermem/internal/llm"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	community  string

	// cfg is loaded before any subcommand runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hypermem",
	Short: "Decaying hypergraph memory for community chat agents",
	Long: "hypermem stores n-ary memories about users, channels and topics, ranks them for\n" +
		"prompt injection, and lets unused memories fade away. Single Go binary, SQLite storage.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		setupLogging(cfg.Logging, verbose)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.hypermem/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&community, "community", "g", "default", "community (guild) id")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(exportCmd)
}

// openDB is a helper that opens the database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// newExtractor builds the LLM-backed extractor. Without a provider it still
// works, degrading every text to a truncated summary.
func newExtractor() engine.Extractor {
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("LLM not configured, entity extraction disabled")
		return engine.NewLLMExtractor(nil)
	}
	log.Info().Str("provider", cfg.LLM.Provider).Msg("llm enabled")
	return engine.NewLLMExtractor(llm.WithBreaker(cfg.LLM.Provider, client, llm.DefaultBreakerSettings()))
}

// openPipeline opens the database and wires the engine and ingestion
// pipeline. Callers close the returned DB.
func openPipeline() (*store.DB, *engine.Engine, *ingest.Pipeline, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open db: %w", err)
	}
	ext := newExtractor()
	eng := engine.New(db, cfg.Memory, ext)
	return db, eng, ingest.New(eng, ext, cfg.Ingest), nil
}

func stderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
