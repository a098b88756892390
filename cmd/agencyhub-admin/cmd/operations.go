package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/postgres"
	"github.com/agencyhub/api/pkg/jwt"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/migrations"
)

// recover

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail analyses stuck in processing after a worker crash",
	Args:  cobra.NoArgs,
	RunE:  runRecover,
}

// token

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue access tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Sign a token locally with AUTH_JWT_SECRET",
	Long: `Sign an access token with the server's signing secret, read from the
same environment as the server. Without --agency the token is unrestricted
and may call the platform administration endpoints.`,
	Args: cobra.NoArgs,
	RunE: runTokenMint,
}

// migrate

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema (connects with DB_* settings)",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			n, err := r.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", n)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			if err := r.Down(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration.")
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	recoverCmd.Flags().Duration("stuck-after", 0, "Processing age that counts as stuck (server default when unset)")
	recoverCmd.Flags().Int("limit", 0, "Maximum jobs to recover (server default when unset)")

	tokenMintCmd.Flags().String("user", "agencyhub-admin", "Subject user ID")
	tokenMintCmd.Flags().String("agency", "", "Restrict the token to this agency")
	tokenMintCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	tokenCmd.AddCommand(tokenMintCmd)

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func runRecover(cmd *cobra.Command, _ []string) error {
	stuckAfter, _ := cmd.Flags().GetDuration("stuck-after")
	limit, _ := cmd.Flags().GetInt("limit")

	body := map[string]int{}
	if stuckAfter > 0 {
		body["stuck_after_seconds"] = int(stuckAfter.Seconds())
	}
	if limit > 0 {
		body["limit"] = limit
	}

	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var resp RecoverResponse
	if err := client.PostJSON(cmd.Context(), "/api/v1/admin/analyses/recover", body, &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}
	t := newTable(cmd.OutOrStdout(), "FOUND", "RECOVERED", "SKIPPED", "ERRORS")
	t.AddRow(itoa(resp.Total), itoa(resp.Recovered), itoa(resp.Skipped), itoa(resp.Errors))
	return t.Flush()
}

func runTokenMint(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	user, _ := cmd.Flags().GetString("user")
	agencyID, _ := cmd.Flags().GetString("agency")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	gen := jwt.NewGenerator(jwt.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
	})
	token, expires, err := gen.GenerateAccessTokenWithTTL(user, agencyID, agencyID == "", ttl)
	if err != nil {
		return err
	}

	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, map[string]string{
			"token":      token,
			"expires_at": expires.Format(time.RFC3339),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	if flagVerbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expires.Format(time.RFC3339))
	}
	return nil
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text", Output: os.Stderr})

	db, err := postgres.New(cmd.Context(), &cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(migrations.NewRunner(db.DB, migrations.Files(), log))
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withRunner(cmd, func(r *migrations.Runner) error {
		applied, err := r.Applied(cmd.Context())
		if err != nil {
			return err
		}
		pending, err := r.Pending(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout(), "VERSION", "NAME", "STATE", "APPLIED")
		for _, rec := range applied {
			t.AddRow(rec.Version, "", "applied", rec.AppliedAt.Format(time.RFC3339))
		}
		for _, m := range pending {
			t.AddRow(m.Version, m.Name, "pending", "-")
		}
		return t.Flush()
	})
}
