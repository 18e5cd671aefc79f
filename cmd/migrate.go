package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/config"
)

const defaultMigrationsPath = "file://migrations"

func migrateCommand() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			m, err := migrate.New(source, migrateURL(&cfg.Database))
			if err != nil {
				return fmt.Errorf("create migrate instance: %w", err)
			}
			defer func() { _, _ = m.Close() }()

			if err = runMigration(m, args[0]); err != nil {
				return fmt.Errorf("migration %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migration %s completed successfully\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", defaultMigrationsPath, "migrations source URL")

	return cmd
}

// migrateURL builds a postgres URL from the database config.
func migrateURL(db *config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(db.User, db.Password),
		Host:   db.Host + ":" + strconv.Itoa(db.Port),
		Path:   "/" + db.DBName,
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{db.SSLMode}}.Encode()
	}
	return u.String()
}

func runMigration(m *migrate.Migrate, direction string) error {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
