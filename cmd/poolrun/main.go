// Command poolrun drives a thread pool through a post/send workload.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "poolrun",
		Usage:   "run a post/send workload on a fixed-size thread pool",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "pool configuration file (yaml or json)",
			},
			&cli.IntFlag{
				Name:    "size",
				Aliases: []string{"n"},
				Usage:   "number of workers (overrides config)",
			},
			&cli.StringFlag{
				Name:  "send-wait",
				Usage: "Send wait strategy: block or spin (overrides config)",
			},
			&cli.IntFlag{
				Name:  "posts",
				Usage: "number of asynchronous tasks",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "sends",
				Usage: "number of synchronous tasks",
				Value: 3,
			},
			&cli.IntFlag{
				Name:  "producers",
				Usage: "goroutines posting tasks concurrently",
				Value: 1,
			},
			&cli.DurationFlag{
				Name:  "post-delay",
				Usage: "work time of each posted task",
				Value: 10 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "send-delay",
				Usage: "work time of each sent task",
				Value: 200 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "pause between the post and send phases",
				Value: 500 * time.Millisecond,
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print a metrics summary after the workload",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts, err := optionsFromCommand(cmd)
			if err != nil {
				return err
			}
			return runPool(ctx, opts, os.Stdout, os.Stderr)
		},
	}
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createApp().Run(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
