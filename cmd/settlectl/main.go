package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:                 "settlectl",
		Usage:                "inspect CaP5 deposits, payout plans and the basket index",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"SETTLECTL_LOG_LEVEL"},
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			ClassifyCmd,
			PlanCmd,
			IndexCmd,
			StatusCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
