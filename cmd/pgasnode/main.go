package main

import (
	"fmt"
	"os"

	"github.com/danmuck/pgasnet/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	logging.ConfigureRuntime()
	if err := App().Run(os.Args); err != nil {
		log.Error().Err(err).Msg("pgasnode failed")
		os.Exit(1)
	}
}

func App() *cli.App {
	return &cli.App{
		Name:    "pgasnode",
		Usage:   "shared-variable runtime node",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "node config file",
				EnvVars: []string{"PGASNET_CONFIG"},
				Value:   "pgasnode.toml",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			broadcastCommand(),
			putCommand(),
			configCommand(),
		},
	}
}
