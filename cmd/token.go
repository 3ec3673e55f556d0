package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/branchline/internal/api"
	"github.com/branchline/internal/config"
)

// TokenCommand returns the CLI command that signs an API access token
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a signed access token for a workspace",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workspace",
				Aliases:  []string{"w"},
				Usage:    "Workspace ID the token is scoped to",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User ID recorded as the submitter",
				Value:   "cli",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server jwt_secret is not configured")
	}

	token, err := api.IssueToken(cfg.Server.JWTSecret, c.String("workspace"), c.String("user"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
