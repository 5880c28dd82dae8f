package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "batchsim",
		Usage: "replay a memory request workload against a simulated device",
		Commands: []*cli.Command{{
			Name:        "run",
			Description: "make every request in the workload, flush them and print where they landed",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "workload",
					Aliases:  []string{"w"},
					Usage:    "the workload YAML file",
					Required: true,
				},
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "an optional allocator config YAML file",
					EnvVars: []string{envVarPrefix + "_CONFIG_FILE"},
				},
				&cli.BoolFlag{
					Name:  "detailed",
					Usage: "include every block's range map in the statistics",
				},
			},
			Action: func(ctx *cli.Context) error {
				workload, err := LoadWorkload(ctx.String("workload"))
				if err != nil {
					return err
				}

				config, err := LoadConfig(ctx.String("config"))
				if err != nil {
					return err
				}

				level, err := config.Level()
				if err != nil {
					return err
				}

				logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
				return Simulate(logger, workload, config, os.Stdout, ctx.Bool("detailed"))
			},
		}, {
			Name:        "types",
			Description: "print the memory types the workload's simulated device offers",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "workload",
					Aliases:  []string{"w"},
					Usage:    "the workload YAML file",
					Required: true,
				},
			},
			Action: func(ctx *cli.Context) error {
				workload, err := LoadWorkload(ctx.String("workload"))
				if err != nil {
					return err
				}

				options, err := workload.HostOptions()
				if err != nil {
					return err
				}

				for typeIndex, memoryType := range options.MemoryTypes {
					if _, err := fmt.Printf("type %d: heap %d [%s]\n", typeIndex, memoryType.HeapIndex, memoryType.PropertyFlags); err != nil {
						return err
					}
				}
				return nil
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
