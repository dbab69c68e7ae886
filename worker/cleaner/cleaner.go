// Package cleaner prunes old inbox entries. The inbox is working
// history, not an archive; anything older than the retention window
// has either been acted on or never will be.
package cleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/looncoop/loon/core"
)

const interval = time.Hour

type Config struct {
	Retention time.Duration `json:"retention" valid:"required"`
}

type Cleaner struct {
	inbox  core.MessageStore
	logger *slog.Logger
	cfg    Config
}

func New(
	inbox core.MessageStore,
	logger *slog.Logger,
	cfg Config,
) *Cleaner {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &Cleaner{
		inbox:  inbox,
		logger: logger.With("worker", "cleaner"),
		cfg:    cfg,
	}
}

func (w *Cleaner) Run(ctx context.Context) error {
	w.logger.Info("cleaner start")

	for {
		_ = w.run(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (w *Cleaner) run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.cfg.Retention)

	n, err := w.inbox.DeleteBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("inbox.DeleteBefore", "err", err)
		return err
	}

	if n > 0 {
		w.logger.Info("pruned inbox", "count", n, "cutoff", cutoff)
	}

	return nil
}
