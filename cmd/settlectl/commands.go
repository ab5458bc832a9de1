package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/cap5/settlement_service/internal/domain/services/chainreader"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/internal/domain/services/oracle"
	"github.com/cap5/settlement_service/internal/domain/services/payout"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/pyth"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/internal/infrastructure/config"
	"github.com/cap5/settlement_service/internal/infrastructure/di"
	"github.com/cap5/settlement_service/internal/infrastructure/repositories"
	"github.com/cap5/settlement_service/pkg/logger"
)

var ClassifyCmd = &cli.Command{
	Name:      "classify",
	Usage:     "classify a deposit signature from finalized chain data",
	ArgsUsage: "<signature>",
	Action: func(cctx *cli.Context) error {
		sig, err := signatureArg(cctx)
		if err != nil {
			return err
		}
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}

		deposit, err := env.classifier().Classify(cctx.Context, sig)
		if err != nil {
			return err
		}
		if deposit == nil {
			return writeJSON(cctx.App.Writer, map[string]interface{}{"signature": sig, "related": false})
		}
		return writeJSON(cctx.App.Writer, deposit)
	},
}

var PlanCmd = &cli.Command{
	Name:      "plan",
	Usage:     "compute the payout for a deposit without sending it",
	ArgsUsage: "<signature>",
	Action: func(cctx *cli.Context) error {
		sig, err := signatureArg(cctx)
		if err != nil {
			return err
		}
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		oracleSvc, err := env.oracle()
		if err != nil {
			return err
		}

		// Plan never touches the store, the sender or the key.
		svc := payout.NewService(
			repositories.NewMemorySettlementRepository(),
			env.classifier(),
			oracleSvc,
			env.solana,
			nil,
			payout.Config{Treasury: env.treasury()},
			env.log,
		)
		plan, err := svc.Plan(cctx.Context, sig)
		if err != nil {
			return err
		}
		return writeJSON(cctx.App.Writer, plan)
	},
}

var IndexCmd = &cli.Command{
	Name:  "index",
	Usage: "print the current basket index and its per-asset breakdown",
	Action: func(cctx *cli.Context) error {
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		oracleSvc, err := env.oracle()
		if err != nil {
			return err
		}
		snap, err := oracleSvc.Snapshot(cctx.Context)
		if err != nil {
			return err
		}
		return writeJSON(cctx.App.Writer, snap)
	},
}

var StatusCmd = &cli.Command{
	Name:      "status",
	Usage:     "print the stored settlement record for a signature",
	ArgsUsage: "<signature>",
	Action: func(cctx *cli.Context) error {
		sig, err := signatureArg(cctx)
		if err != nil {
			return err
		}
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}

		store, err := di.NewStoreBuilder(env.cfg, env.log.Zap()).Build()
		if err != nil {
			return err
		}
		defer store.Repo.Close()

		record, err := store.Repo.GetOne(cctx.Context, sig)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("no settlement record for %s", sig)
		}
		return writeJSON(cctx.App.Writer, record)
	},
}

type env struct {
	cfg    *config.Config
	log    *logger.Logger
	solana *solana.Client
}

func newEnv(cctx *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cctx.String("log-level"), cfg.Environment)
	client := solana.NewClient(solana.Config{
		RPCURL:  cfg.Solana.RPCURL,
		Timeout: cfg.Solana.RequestTimeout,
	}, log.Zap())
	return &env{cfg: cfg, log: log, solana: client}, nil
}

func (e *env) treasury() classifier.Treasury {
	return classifier.Treasury{
		StablecoinMint:    e.cfg.Treasury.StablecoinMint,
		StablecoinAccount: e.cfg.Treasury.StablecoinAccount,
		IndexMint:         e.cfg.Treasury.IndexMint,
		Owner:             e.cfg.Treasury.Owner,
	}
}

func (e *env) classifier() *classifier.Service {
	reader := chainreader.NewService(e.solana, chainreader.Config{
		ReadRetries: e.cfg.Solana.ReadRetries,
	}, e.log)
	return classifier.NewService(reader, e.treasury())
}

func (e *env) oracle() (*oracle.Service, error) {
	client := pyth.NewClient(pyth.Config{
		BaseURL: e.cfg.Oracle.BaseURL,
		Timeout: e.cfg.Oracle.Timeout,
	}, e.log.Zap())
	return oracle.NewService(client, oracle.DefaultBasket, oracle.Config{
		FeedIDs:  e.cfg.Oracle.FeedIDs,
		CacheTTL: e.cfg.Oracle.CacheTTL,
	}, nil, e.log)
}

func signatureArg(cctx *cli.Context) (string, error) {
	if cctx.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one signature argument")
	}
	return cctx.Args().First(), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
