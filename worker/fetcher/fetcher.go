// Package fetcher polls the transport for calls from known quorum
// participants and routes matches into the inbox.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/zyedidia/generic/mapset"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/router"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = time.Minute

	propertyFetchOffset = "fetch_offset"

	seenCacheSize = 4096
)

type Config struct {
	Interval time.Duration `json:"interval"`
	// Timeout bounds one fetch round; a hung relay must not stall the
	// loop.
	Timeout time.Duration `json:"timeout"`
}

func New(
	accounts core.AccountStore,
	transport core.Transport,
	routerz *router.Router,
	properties core.PropertyStore,
	logger *slog.Logger,
	cfg Config,
) *Fetcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Fetcher{
		accounts:   accounts,
		transport:  transport,
		routerz:    routerz,
		properties: properties,
		logger:     logger.With("worker", "fetcher"),
		cfg:        cfg,
		seen:       seen,
	}
}

type Fetcher struct {
	accounts   core.AccountStore
	transport  core.Transport
	routerz    *router.Router
	properties core.PropertyStore
	logger     *slog.Logger
	cfg        Config

	// Relays replay events around the offset boundary; seen ids are
	// dropped before they hit the router a second time. The cache is
	// bounded and restart-lossy, so the inbox itself stays the
	// authority on duplicates (event ids are unique there).
	seen *lru.Cache[string, struct{}]
}

func (w *Fetcher) Run(ctx context.Context) error {
	w.logger.Info("fetcher start")

	for {
		_ = w.run(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Interval):
		}
	}
}

func (w *Fetcher) run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	authors, err := w.authors(ctx)
	if err != nil {
		w.logger.Error("list authors", "err", err)
		return err
	}

	if len(authors) == 0 {
		return nil
	}

	var offset int64
	if err := w.properties.Get(ctx, propertyFetchOffset, &offset); err != nil {
		w.logger.Error("properties.Get", "err", err)
		return err
	}

	var since time.Time
	if offset > 0 {
		since = time.Unix(offset, 0)
	}

	envs, err := w.transport.Fetch(ctx, authors, since)
	if err != nil {
		w.logger.Error("transport.Fetch", "err", err)
		return err
	}

	fresh := make([]*core.Envelope, 0, len(envs))
	for _, env := range envs {
		if w.seen.Contains(env.ID) {
			continue
		}
		w.seen.Add(env.ID, struct{}{})
		fresh = append(fresh, env)

		if unix := env.CreatedAt.Unix(); unix > offset {
			offset = unix
		}
	}

	if len(fresh) == 0 {
		return nil
	}

	entries, err := w.routerz.Ingest(ctx, fresh)
	if err != nil {
		w.logger.Error("router.Ingest", "err", err)
		return err
	}

	if len(entries) > 0 {
		if err := w.routerz.Keep(ctx, entries); err != nil {
			w.logger.Error("router.Keep", "err", err)
			return err
		}

		w.logger.Info("kept new calls", "count", len(entries))
	}

	if err := w.properties.Set(ctx, propertyFetchOffset, offset); err != nil {
		w.logger.Error("properties.Set", "err", err)
		return err
	}

	return nil
}

// authors is the union of every account's participant pubkeys, in the
// hex form relay filters expect.
func (w *Fetcher) authors(ctx context.Context) ([]string, error) {
	accounts, err := w.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	set := mapset.New[string]()
	var authors []string
	for _, account := range accounts {
		participants, err := w.accounts.Participants(ctx, account.ID)
		if err != nil {
			return nil, err
		}

		for _, p := range participants {
			prefix, value, err := nip19.Decode(p.NPub)
			if err != nil || prefix != "npub" {
				w.logger.Warn("skip bad npub", "account", account.ID, "index", p.QuorumIndex)
				continue
			}

			pub := value.(string)
			if set.Has(pub) {
				continue
			}
			set.Put(pub)
			authors = append(authors, pub)
		}
	}

	return authors, nil
}
