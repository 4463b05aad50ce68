package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/types"
	"swaprelayer/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var app = &cli.App{
	Name:  "relayer",
	Usage: "cross-chain swap relayer, every command is one short-lived invocation",
	Flags: []cli.Flag{
		ConfigFileFlag,
		LogLevelFlag,
		JSONFormatFlag,
		ColorFormatFlag,
		TimeoutFlag,
	},
	Before: setLogger,
	Commands: []*cli.Command{
		jobCommand(workers.JobScan, "scan the chain up to head and check completions"),
		jobCommand(workers.JobSend, "send the queued txs of the chain as one multicall"),
		jobCommand(workers.JobSupervise, "re-enqueue performed swaps without continuation"),
		{
			Name:   "consume",
			Usage:  "move outbound tx messages from kafka into the tx queue",
			Flags:  []cli.Flag{LimitFlag},
			Action: consume,
		},
		{
			Name:   "hide",
			Usage:  "hide a swap record from processing",
			Flags:  []cli.Flag{ChainFlag, SwapFlag},
			Action: hide,
		},
		{
			Name:   "serve",
			Usage:  "serve health, metrics and job triggers over http",
			Action: serve,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Error("[relayer] invocation failed", "err", err)
		os.Exit(1)
	}
}

func jobCommand(job, usage string) *cli.Command {
	return &cli.Command{
		Name:  job,
		Usage: usage,
		Flags: []cli.Flag{ChainFlag},
		Action: func(c *cli.Context) error {
			return withRelayer(c, func(ctx context.Context, r *relayer) error {
				chainID := c.Int(ChainFlag.Name)
				outcome, err := r.run(ctx, job, chainID)
				if types.IsLockHeld(err) {
					log.Info("[relayer] another invocation holds the lock, skipping", "job", job, "chainId", chainID)
					return nil
				}
				if err != nil {
					return jobError(fmt.Errorf("%s on chain %d: %w", job, chainID, err))
				}
				log.Info("[relayer] job finished", "job", job, "chainId", chainID, "outcome", outcome)
				return nil
			})
		},
	}
}

// exit code of failures that the next scheduled invocation will not fix
const exitFatal = 2

// jobError keeps retryable failures on the default exit code 1 and maps the
// rest to exitFatal, so schedulers can tell them apart.
func jobError(err error) error {
	if err == nil || types.IsRetryable(err) {
		return err
	}
	log.Error("[relayer] job failed permanently", "err", err)
	return cli.Exit(err.Error(), exitFatal)
}

// withRelayer loads the config, builds the dependencies and runs fn bounded by --timeout.
func withRelayer(c *cli.Context, fn func(ctx context.Context, r *relayer) error) error {
	cfg, err := config.Load(c.String(ConfigFileFlag.Name))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration(TimeoutFlag.Name))
	defer cancel()

	r, err := newRelayer(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.close(context.Background())
	return fn(ctx, r)
}

func consume(c *cli.Context) error {
	return withRelayer(c, func(ctx context.Context, r *relayer) error {
		k := r.cfg.Kafka
		reader := workers.NewKafkaReader(k.Brokers, k.Topic, k.GroupID)
		defer reader.Close()
		n, err := workers.NewTxConsumer(r.cfg, reader, r.txService).Run(ctx, c.Int(LimitFlag.Name))
		log.Info("[relayer] consumer stopped", "messages", n)
		return err
	})
}

func hide(c *cli.Context) error {
	return withRelayer(c, func(ctx context.Context, r *relayer) error {
		key := types.SwapKey{SwapID: common.HexToHash(c.String(SwapFlag.Name)).Hex(), SrcChainID: c.Int(ChainFlag.Name)}
		swaps := r.mongo.Swaps()
		rec, err := swaps.FindSwap(ctx, key)
		if err != nil {
			return fmt.Errorf("swap %s: %w", key, err)
		}
		if err := swaps.HideSwap(ctx, key); err != nil {
			return err
		}
		log.Info("[relayer] swap hidden", "swap", key.String(), "performed", rec.Status.PerformedTxID, "continue", rec.Status.ContinueTxID)
		return nil
	})
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String(ConfigFileFlag.Name))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRelayer(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.close(context.Background())
	return workers.Worker_HTTP(ctx, cfg.Server.HTTPListen, workers.NewRouter(r.run, c.Duration(TimeoutFlag.Name)))
}
