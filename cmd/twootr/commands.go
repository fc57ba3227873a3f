package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"twootr/cmd/identity"
	"twootr/cmd/internal/app"
	"twootr/cmd/internal/database"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "twootr",
		Short: "Twootr broadcast server",
		Long: `Twootr accepts WebSocket logons, fans posts out to live followers and
serves follow and post history over HTTP.

Configuration comes from the TOML file named by TWOOTR_CONFIG and from
TWOOTR_* environment variables.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and WebSocket server",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newMigrateCmd(),
		newUserCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("twootr version %s\n", version)
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	return app.Serve(cmd.Context())
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the database schema",
		Long: `Apply (up, the default) or roll back (down) the embedded migrations
against TWOOTR_DATABASE_URL in TWOOTR_DB_SCHEMA.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			dir, err := database.ParseDirection(arg)
			if err != nil {
				return err
			}

			cfg, err := loadDBConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg)

			pool, err := database.NewPool(cmd.Context(), database.PoolConfig{
				URL:      cfg.DatabaseURL,
				Schema:   cfg.DBSchema,
				MaxConns: cfg.DBMaxConns,
				MinConns: cfg.DBMinConns,
			})
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer pool.Close()

			if err := database.Migrate(cmd.Context(), pool, cfg.DatabaseURL, cfg.DBSchema, dir); err != nil {
				return err
			}
			log.Info("db.migrated", "schema", cfg.DBSchema, "direction", string(dir))
			cmd.Printf("migrated %s %s\n", cfg.DBSchema, dir)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage registered users",
	}

	var (
		userID string
		secret string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		Long: `Register a user in the Postgres credential directory.

Examples:
  twootr user add --id alice --secret 'alice-secret-1'

  # Read the secret from stdin
  printf '%s\n' "$SECRET" | twootr user add --id alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := identity.NormalizeUserID(userID)
			if err := identity.ValidateUserID(id); err != nil {
				return err
			}
			if secret == "" {
				s, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				secret = s
			}

			cfg, err := loadDBConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg)

			pool, err := app.OpenDB(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			v, err := app.NewUserVerifier(cfg, log, pool)
			if err != nil {
				return err
			}
			if err := v.Register(cmd.Context(), id, secret); err != nil {
				return err
			}
			cmd.Printf("registered %s\n", id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&userID, "id", "", "user id (required)")
	addCmd.Flags().StringVar(&secret, "secret", "", "secret; read from stdin when omitted")
	_ = addCmd.MarkFlagRequired("id")

	userCmd.AddCommand(addCmd)
	return userCmd
}

func loadDBConfig() (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if cfg.DatabaseURL == "" {
		return app.Config{}, errors.New("TWOOTR_DATABASE_URL is required")
	}
	return cfg, nil
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("secret is required")
	}
	return line, nil
}
