package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	mcpserver "github.com/m-mizutani/ytscribe/pkg/service/mcp"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

func serveCommand() *cli.Command {
	var (
		cfg        config
		transport  string
		addr       string
		configFile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Aliases:     []string{"t"},
			Usage:       "MCP transport (stdio or http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("YTSCRIBE_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for the http transport",
			Value:       ":8080",
			Sources:     cli.EnvVars("YTSCRIBE_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a YAML config file",
			Sources:     cli.EnvVars("YTSCRIBE_CONFIG"),
			Destination: &configFile,
		},
	}
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, ytdlpFlags(&cfg)...)
	flags = append(flags, serverFlags(&cfg)...)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if configFile != "" {
				if err := cfg.applyConfigFile(configFile, c.IsSet); err != nil {
					return err
				}
			}
			cfg.setupLogging()
			ctx = logging.With(ctx, logging.Default())

			deps, err := cfg.newDeps()
			if err != nil {
				return err
			}
			srv := mcpserver.New(*deps)

			switch transport {
			case "stdio":
				return srv.RunStdio(ctx)
			case "http":
				return srv.RunHTTP(ctx, addr)
			default:
				return goerr.New("unknown transport, expected stdio or http",
					goerr.V("transport", transport))
			}
		},
	}
}
