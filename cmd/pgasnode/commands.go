package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/pgasnet/internal/config"
	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "serve this node until interrupted",
		Action: func(c *cli.Context) error {
			svc, err := loadService(c)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
}

func valueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "group", Aliases: []string{"g"}, Usage: "group id"},
		&cli.IntFlag{Name: "requester", Usage: "requesting thread id"},
		&cli.StringFlag{Name: "storage", Aliases: []string{"s"}, Usage: "storage name", Required: true},
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "variable name", Required: true},
		&cli.StringFlag{Name: "value", Usage: "value literal", Required: true},
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "value type: " + valueTypes, Value: "string"},
		&cli.DurationFlag{Name: "timeout", Usage: "give up after", Value: 10 * time.Second},
	}
}

func broadcastCommand() *cli.Command {
	return &cli.Command{
		Name:  "broadcast",
		Usage: "set a variable on every member of a group",
		Flags: valueFlags(),
		Action: func(c *cli.Context) error {
			svc, err := loadService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			value, err := parseValue(c.String("type"), c.String("value"))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			if err := svc.Broadcast(ctx, int32(c.Int("group")), int32(c.Int("requester")), c.String("storage"), c.String("name"), value); err != nil {
				return err
			}
			if err := svc.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "broadcast %s.%s to group %d\n", c.String("storage"), c.String("name"), c.Int("group"))
			return nil
		},
	}
}

func putCommand() *cli.Command {
	flags := append(valueFlags(), &cli.IntFlag{Name: "thread", Usage: "group-local target thread", Required: true})
	return &cli.Command{
		Name:  "put",
		Usage: "set a variable on one group member and wait for the ack",
		Flags: flags,
		Action: func(c *cli.Context) error {
			svc, err := loadService(c)
			if err != nil {
				return err
			}
			defer svc.Close()
			value, err := parseValue(c.String("type"), c.String("value"))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			target := node.ThreadID(c.Int("thread"))
			if err := svc.Put(ctx, int32(c.Int("group")), int32(c.Int("requester")), target, c.String("storage"), c.String("name"), value); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "put %s.%s on thread %d\n", c.String("storage"), c.String("name"), target)
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "node config helpers",
		Subcommands: []*cli.Command{
			{
				Name:  "template",
				Usage: "write a starter config",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to file instead of stdout"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					if out := c.String("out"); out != "" {
						return config.WriteTemplate(out, "node", c.Bool("force"))
					}
					tmpl, err := config.Template("node")
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(c.App.Writer, tmpl)
					return err
				},
			},
			{
				Name:  "validate",
				Usage: "load and validate the config file",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "ok: node %d, %d peers, %d groups, %d threads\n",
						cfg.NodeID, len(cfg.Peers), len(cfg.Groups), len(cfg.Threads))
					return nil
				},
			},
		},
	}
}

func loadService(c *cli.Context) (*server.Service, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	observability.NodeLogger("pgasnode", cfg.NodeID)
	log.Debug().Str("config", c.String("config")).Msg("pgasnode config loaded")
	return server.NewService(cfg)
}
