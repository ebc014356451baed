// Package cli implements the tempaccess command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/logging"
	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/services"
)

// errNoDatabase is returned by commands that need the revision history when
// db.host is not configured.
var errNoDatabase = errors.New("no database configured (set db.host)")

type app struct {
	envFile string
	verbose bool

	loadConfig func(envFile string) (*config.Config, error)
	openStore  func(ctx context.Context, cfg *config.Config) (repository.TemplateStore, func(), error)
}

// NewRootCmd returns the tempaccess root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		loadConfig: config.LoadConfig,
		openStore:  openPostgresStore,
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tempaccess",
		Short:         "Temporary access stack tooling",
		Long:          "Synthesize the temporary access stack and dry-run access requests against its runbook.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.envFile, "env", "", "Path to .env file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.synthCmd(),
		a.validateCmd(),
		a.payloadCmd(),
		a.bundleCmd(),
		a.revisionsCmd(),
	)
	return root
}

func (a *app) logger(cmd *cobra.Command) *logging.Logger {
	level := "info"
	if a.verbose {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

func (a *app) config() (*config.Config, error) {
	cfg, err := a.loadConfig(a.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// service wires a SynthService. With persist unset, revisions go to a
// throwaway in-memory store.
func (a *app) service(cmd *cobra.Command, cfg *config.Config, persist bool) (*services.SynthService, func(), error) {
	store := repository.TemplateStore(repository.NewMemoryTemplateStore())
	closeFn := func() {}
	if persist {
		var err error
		store, closeFn, err = a.openStore(cmd.Context(), cfg)
		if err != nil {
			return nil, nil, err
		}
	}
	return services.NewSynthService(cfg, store, nil, a.logger(cmd)), closeFn, nil
}

func openPostgresStore(ctx context.Context, cfg *config.Config) (repository.TemplateStore, func(), error) {
	if cfg.DB.Host == "" {
		return nil, nil, errNoDatabase
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	store := repository.NewPostgresTemplateStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
