package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/branchline/internal/database"
	"github.com/branchline/internal/jobqueue"
	"github.com/branchline/internal/logging"
)

// MigrateCommand returns the CLI command that applies database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-jobs",
				Usage: "Do not migrate the background job tables",
			},
		},
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(logging.Options{Level: cfg.Log.Level, Pretty: true})
	if err != nil {
		return err
	}
	defer closer.Close()

	url := cfg.Database.URL
	db, err := database.NewDB(c.Context, url)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(c.Context, db)
	if err != nil {
		return err
	}
	log.Info().Int("applied", applied).Msg("Schema migrations complete")

	if c.Bool("skip-jobs") {
		return nil
	}
	versions, err := jobqueue.Migrate(c.Context, url)
	if err != nil {
		return fmt.Errorf("failed to migrate job tables: %w", err)
	}
	log.Info().Ints("versions", versions).Msg("Job queue migrations complete")
	return nil
}
