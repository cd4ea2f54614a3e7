package main

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/storycards/internal/config"
	"github.com/DoyleJ11/storycards/internal/identity"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	cfg := &config.Client{}

	root := &cobra.Command{
		Use:           "storycards",
		Short:         "Play the storytelling card game from a terminal.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(""); err != nil {
				return err
			}
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
	}
	config.RegisterClientFlags(root.PersistentFlags(), cfg)

	root.AddCommand(newPlayCmd(cfg), newIDCmd(cfg))
	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("storycards v{{.Version}}\n")
	return root
}

func newIDCmd(cfg *config.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the stable player id, creating it if needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := config.NewLogger(cfg.LogLevel, cfg.Debug, cfg.LogFile, true)
			if err != nil {
				return err
			}
			defer log.Sync()

			ids, closeStore, err := openIdentity(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), ids.GetOrCreatePlayerID(cmd.Context()))
			return err
		},
	}
}

// openIdentity picks the database store when a DSN is configured and the
// file store otherwise.
func openIdentity(ctx context.Context, cfg *config.Client, log *zap.Logger) (*identity.Provider, func() error, error) {
	opts := []identity.Option{identity.WithLogger(log.Named("identity"))}

	if cfg.IdentityDSN == "" {
		return identity.NewProvider(identity.NewFileStore(cfg.IdentityFile), opts...), func() error { return nil }, nil
	}

	db, err := identity.OpenPostgres(cfg.IdentityDSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("identity db: %w", err)
	}
	store, err := identity.NewGormStore(ctx, db, cfg.Profile)
	if err != nil {
		return nil, nil, multierr.Append(err, sqlDB.Close())
	}
	return identity.NewProvider(store, opts...), sqlDB.Close, nil
}
