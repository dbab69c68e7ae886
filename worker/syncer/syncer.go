// Package syncer keeps every account's wallet state fresh by running
// chain syncs on a fixed cadence.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/wallet"
)

const (
	defaultInterval = time.Minute
	defaultTimeout  = 5 * time.Minute
)

type Config struct {
	Interval time.Duration `json:"interval"`
	// Timeout bounds one account's sync; a hung node round trip must
	// not stall the whole loop.
	Timeout time.Duration `json:"timeout"`
}

func New(
	accounts core.AccountStore,
	engine *wallet.Engine,
	logger *slog.Logger,
	cfg Config,
) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Syncer{
		accounts: accounts,
		engine:   engine,
		logger:   logger.With("worker", "syncer"),
		cfg:      cfg,
	}
}

type Syncer struct {
	accounts core.AccountStore
	engine   *wallet.Engine
	logger   *slog.Logger
	cfg      Config
}

func (w *Syncer) Run(ctx context.Context) error {
	w.logger.Info("syncer start")

	for {
		_ = w.run(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Interval):
		}
	}
}

func (w *Syncer) run(ctx context.Context) error {
	accounts, err := w.accounts.List(ctx)
	if err != nil {
		w.logger.Error("accounts.List", "err", err)
		return err
	}

	for _, account := range accounts {
		syncCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		_, err := w.engine.Sync(syncCtx, account.ID)
		cancel()
		if err != nil {
			// Someone else is already syncing this account; that sync
			// serves the same purpose.
			if errors.Is(err, core.ErrSyncInProgress) {
				continue
			}

			w.logger.Error("engine.Sync", "account", account.ID, "err", err)
			continue
		}
	}

	return nil
}
