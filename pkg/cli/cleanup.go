package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/usecase/session"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

func cleanupCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"s"},
			Usage:       "Session to clean up",
			Sources:     cli.EnvVars("YTSCRIBE_SESSION_ID"),
			Destination: &sessionID,
			Required:    true,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "cleanup",
		Usage: "Run a manifest lifecycle pass over a session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()
			ctx = logging.With(ctx, logging.Default())

			sid, err := model.NewSessionID(sessionID)
			if err != nil {
				return err
			}

			store, err := cfg.newStore()
			if err != nil {
				return err
			}
			repo, err := cfg.newRepository(store)
			if err != nil {
				return err
			}

			removed, err := session.New(store, repo).CleanupSession(ctx, sid)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Removed %d items from session %s\n", removed, sid)
			return nil
		},
	}
}
