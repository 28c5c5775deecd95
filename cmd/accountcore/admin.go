package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/appconfig"
	"github.com/MrEthical07/accountcore/store/postgres"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrate requires storage.driver postgres")
			}

			ctx := cmd.Context()
			pg, err := postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			v, err := pg.MigrationVersion(ctx)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.Int64("version", v))
			return nil
		},
	}
}

func newGCCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete expired tokens and sessions once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				res, err := a.engine.PurgeExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tokens=%d sessions=%d\n", res.Tokens, res.Sessions)
				return nil
			})
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the effective security posture as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.engine.SecurityReport())
			})
		},
	}
}

func newUserCmd(flags *globalFlags) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Administrative account operations",
	}

	var reason string
	disableCmd := &cobra.Command{
		Use:   "disable <user-id>",
		Short: "Disable an account and revoke its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				return a.engine.DisableAccount(cmd.Context(), args[0], reason)
			})
		},
	}
	disableCmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the activity log")

	enableCmd := &cobra.Command{
		Use:   "enable <user-id>",
		Short: "Re-enable a disabled account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				return a.engine.EnableAccount(cmd.Context(), args[0])
			})
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock <user-id>",
		Short: "Clear failed-login lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				return a.engine.UnlockAccount(cmd.Context(), args[0])
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print the public account record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app) error {
				u, err := a.engine.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s username=%s email=%s verified=%t disabled=%t mfa=%t\n",
					u.ID, u.Username, u.Email, u.EmailVerified, u.Disabled, u.Settings.MFAEnabled)
				return nil
			})
		},
	}

	userCmd.AddCommand(disableCmd, enableCmd, unlockCmd, showCmd)
	return userCmd
}

// withApp opens the configured stores without metrics, runs fn and closes
// everything.
func withApp(ctx context.Context, flags *globalFlags, fn func(*app) error) error {
	cfg, log, err := load(flags)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	return runWithApp(ctx, cfg, log, fn)
}

func runWithApp(ctx context.Context, cfg *appconfig.Config, log *zap.Logger, fn func(*app) error) error {
	a, err := openApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
