package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/branchline/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "branchline.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file and environment overrides",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  agent provider: %s\n", cfg.Agent.Provider)
	if cfg.Database.URL == "" {
		fmt.Println("  database: none (in-memory store)")
	} else {
		fmt.Println("  database: configured")
	}
	return nil
}
