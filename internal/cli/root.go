// Package cli defines the observer command tree: serve (HTTP API), ingest
// (one-shot or fan-out ingestion), digest (notification dispatch), and jobs
// (operator actions).
package cli

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/config"
	"github.com/civicband/civic-observer-sub002/internal/ingest"
	"github.com/civicband/civic-observer-sub002/internal/notify"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/search"
	"github.com/civicband/civic-observer-sub002/internal/source"
	"github.com/civicband/civic-observer-sub002/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "observer",
	DisableAutoGenTag: true,
	Short:             "Civic meeting document ingestion and notification service",
	Long: `observer syncs meeting documents from the civic.band platform into local
storage, reconciles counts against the source of truth, and notifies saved
searches about new matches.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(jobsCmd)
	return rootCmd
}

// pipeline bundles the wired application components a command needs.
type pipeline struct {
	cfg      config.Config
	db       *gorm.DB
	source   *source.Client
	searcher search.Searcher
	ingestor *ingest.Ingestor
	matcher  *notify.Matcher
	daily    *notify.Dispatcher
}

// buildPipeline loads config, initializes logging, opens the database, and
// wires the ingestion and notification components.
func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = zerolog.New(sysutil.LogWriter(cfg.LogFile, cfg.LogPretty)).With().Timestamp().Logger()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, err
		}
	}

	src := source.New(cfg.Source.BaseURL, cfg.Source.Timeout)
	searcher, err := search.New(cfg.SearchBackend, db)
	if err != nil {
		return nil, err
	}

	mailer := notify.LogMailer{}
	matcher := &notify.Matcher{DB: db, Searcher: searcher, Mailer: mailer}
	dispatcher := &notify.Dispatcher{DB: db, Searcher: searcher, Mailer: mailer}

	ing := &ingest.Ingestor{
		DB:                 db,
		Source:             src,
		CheckpointInterval: cfg.Ingest.CheckpointInterval,
		BatchSize:          cfg.Ingest.BatchSize,
		MaxAttempts:        cfg.Ingest.MaxAttempts,
		RetryInitial:       cfg.Ingest.RetryInitial,
		Verifier:           &ingest.Verifier{DB: db, Source: src},
		Notifier:           matcher,
	}

	return &pipeline{
		cfg:      cfg,
		db:       db,
		source:   src,
		searcher: searcher,
		ingestor: ing,
		matcher:  matcher,
		daily:    dispatcher,
	}, nil
}
