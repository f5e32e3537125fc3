package main

// @title           Sercha Poller API
// @version         1.0
// @description     Change-reconciliation poller. Polls remote sources on a schedule and emits created, updated and deleted events per subscription.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-poller/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-poller/internal/config"
	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

var version = "dev"

func NewRootCommand() *cobra.Command {
	var configFile string

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use:           "sercha-poller",
		Short:         "Change-reconciliation poller",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a config file (env SERCHA_POLLER_* overrides it)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the API, worker and scheduler in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeAll)
		},
	}

	var apiCmd = &cobra.Command{
		Use:   "api",
		Short: "Run the admin API only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeAPI)
		},
	}

	var workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker and scheduler only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, modeWorker)
		},
	}

	var pollCreds domain.Credentials
	var pollCmd = &cobra.Command{
		Use:   "poll <subscription-id>",
		Short: "Run one poll cycle for a subscription and print the result",
		Long: "Run one poll cycle for a subscription and print the result.\n" +
			"Credential flags override the stored settings and are saved on the subscription.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pollOnce(cmd.Context(), configFile, args[0], credentialOverride(pollCreds))
		},
	}
	pollCmd.Flags().StringVar(&pollCreds.Username, "username", "", "source username")
	pollCmd.Flags().StringVar(&pollCreds.Password, "password", "", "source password")
	pollCmd.Flags().StringVar(&pollCreds.SecurityToken, "security-token", "", "security token appended to the password")
	pollCmd.Flags().StringVar(&pollCreds.LoginURL, "login-url", "", "login endpoint, e.g. https://test.salesforce.com")

	var tokenSubject, tokenRole, tokenApplication string
	var tokenTTL time.Duration
	var tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cmd.Context(), configFile, driving.IssueTokenRequest{
				Subject:       tokenSubject,
				Role:          domain.Role(tokenRole),
				ApplicationID: tokenApplication,
				TTLHours:      int(tokenTTL.Hours()),
			})
		},
	}
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "admin", "token subject")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", string(domain.RoleAdmin), "admin, operator or viewer")
	tokenCmd.Flags().StringVarP(&tokenApplication, "application", "a", "", "restrict the token to one application")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}
	var upCmd = &cobra.Command{
		Use:   "up",
		Short: "Upgrade to the latest version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateDB(cmd.Context(), configFile, postgres.MigrateUp)
		},
	}
	var downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateDB(cmd.Context(), configFile, postgres.MigrateDown)
		},
	}
	migrateCmd.AddCommand(upCmd, downCmd)

	rootCmd.AddCommand(serveCmd, apiCmd, workerCmd, pollCmd, tokenCmd, migrateCmd)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// credentialOverride returns nil when no credential flag was given.
func credentialOverride(c domain.Credentials) *domain.Credentials {
	if c == (domain.Credentials{}) {
		return nil
	}
	return &c
}

// pollOnce runs a single cycle in the foreground, bypassing the queue.
func pollOnce(ctx context.Context, configFile, subscriptionID string, override *domain.Credentials) error {
	a, err := newApp(ctx, configFile, modePoll)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.poller.PollSubscription(ctx, subscriptionID, override)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("poll failed: %s", result.Error)
	}
	return nil
}

// issueToken signs a token with the configured secret without touching any backend.
func issueToken(ctx context.Context, configFile string, req driving.IssueTokenRequest) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return config.ErrMissingSecret
	}

	resp, err := newAuthService(cfg).IssueToken(ctx, req)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(resp.Token)
	return nil
}

func migrateDB(ctx context.Context, configFile string, direction postgres.MigrateDirection) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, err := postgres.Connect(ctx, dbConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running migrations", "direction", direction)
	version, err := db.Migrate(direction)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", "direction", direction, "version", version)
	return nil
}
