package main

import (
	"time"

	"swaprelayer/log"

	"github.com/urfave/cli/v2"
)

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Specify config file",
		Value:   "config.yml",
		EnvVars: []string{"RELAYER_CONFIG"},
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level (panic, fatal, error, warn, info, debug, trace)",
		Value: "info",
	}
	JSONFormatFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output log in json format",
	}
	ColorFormatFlag = &cli.BoolFlag{
		Name:  "color",
		Usage: "output log in color text format",
		Value: true,
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "upper bound of one invocation",
		Value: 5 * time.Minute,
	}
	ChainFlag = &cli.IntFlag{
		Name:     "chain",
		Usage:    "chain id to run the job for",
		Required: true,
	}
	SwapFlag = &cli.StringFlag{
		Name:     "swap",
		Usage:    "swap id (0x-prefixed bytes32)",
		Required: true,
	}
	LimitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "stop after this many messages, 0 runs until the timeout",
	}
)

func setLogger(ctx *cli.Context) error {
	return log.SetLogger(ctx.String(LogLevelFlag.Name), ctx.Bool(JSONFormatFlag.Name), ctx.Bool(ColorFormatFlag.Name))
}
