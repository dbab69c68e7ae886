// Package nostr carries loon calls over public nostr relays. Calls
// travel as ordinary kind-1 text notes whose content is the wire bytes
// of one call; an optional "sig" tag carries the detached provenance
// signature. The relay event signature only authenticates transport,
// so it is deliberately not what the router verifies.
package nostr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/zyedidia/generic/mapset"
	"golang.org/x/sync/errgroup"

	"github.com/looncoop/loon/core"
)

// DefaultLookback bounds how far back a fetch reaches when the caller
// does not say. Old calls are assumed handled or expired.
const DefaultLookback = 14 * 24 * time.Hour

const sigTag = "sig"

type Config struct {
	Relays   []string      `json:"relays" valid:"required"`
	Lookback time.Duration `json:"lookback"`
}

type Client struct {
	cfg    Config
	sk     string
	pub    string
	logger *slog.Logger
}

// New builds a relay client publishing under the given hex secret key.
func New(cfg Config, secretHex string, logger *slog.Logger) (*Client, error) {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("nostr: config: %w", err)
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}

	pub, err := gonostr.GetPublicKey(secretHex)
	if err != nil {
		return nil, fmt.Errorf("nostr: bad secret key: %w", err)
	}

	return &Client{
		cfg:    cfg,
		sk:     secretHex,
		pub:    pub,
		logger: logger.With("transport", "nostr"),
	}, nil
}

// PublicKey is the hex pubkey this client publishes under.
func (c *Client) PublicKey() string {
	return c.pub
}

// Fetch pulls stored notes by the given authors since the cutoff from
// every configured relay, deduplicated by event id and ordered by
// creation time. A zero cutoff means the default lookback. Individual
// relay failures are logged and skipped; Fetch fails only when no
// relay answered.
func (c *Client) Fetch(ctx context.Context, authors []string, since time.Time) ([]*core.Envelope, error) {
	if since.IsZero() {
		since = time.Now().Add(-c.cfg.Lookback)
	}
	ts := gonostr.Timestamp(since.Unix())
	filter := gonostr.Filter{
		Kinds:   []int{gonostr.KindTextNote},
		Authors: authors,
		Since:   &ts,
	}

	var (
		seen    = mapset.New[string]()
		envs    []*core.Envelope
		lastErr error
		ok      int
	)
	for _, url := range c.cfg.Relays {
		events, err := c.fetchRelay(ctx, url, filter)
		if err != nil {
			c.logger.Warn("relay fetch failed", "relay", url, "err", err)
			lastErr = err
			continue
		}

		ok++
		for _, ev := range events {
			if seen.Has(ev.ID) {
				continue
			}
			seen.Put(ev.ID)
			envs = append(envs, toEnvelope(ev))
		}
	}

	if ok == 0 && lastErr != nil {
		return nil, fmt.Errorf("nostr: all relays failed: %w", lastErr)
	}

	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].CreatedAt.Before(envs[j].CreatedAt)
	})
	return envs, nil
}

func (c *Client) fetchRelay(ctx context.Context, url string, filter gonostr.Filter) ([]*gonostr.Event, error) {
	relay, err := gonostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, gonostr.Filters{filter})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	var events []*gonostr.Event
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sub.EndOfStoredEvents:
			return events, nil
		case ev, open := <-sub.Events:
			if !open {
				return events, nil
			}
			events = append(events, ev)
		}
	}
}

// Listen streams notes by the given authors as they arrive, invoking
// handle for each one, until the context ends. Every relay gets its
// own subscription; duplicates across relays are suppressed.
func (c *Client) Listen(ctx context.Context, authors []string, handle func(*core.Envelope)) error {
	now := gonostr.Now()
	filter := gonostr.Filter{
		Kinds:   []int{gonostr.KindTextNote},
		Authors: authors,
		Since:   &now,
	}

	var (
		mu   sync.Mutex
		seen = mapset.New[string]()
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, url := range c.cfg.Relays {
		url := url
		g.Go(func() error {
			relay, err := gonostr.RelayConnect(ctx, url)
			if err != nil {
				return fmt.Errorf("nostr: connect %s: %w", url, err)
			}
			defer relay.Close()

			sub, err := relay.Subscribe(ctx, gonostr.Filters{filter})
			if err != nil {
				return fmt.Errorf("nostr: subscribe %s: %w", url, err)
			}
			defer sub.Unsub()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, open := <-sub.Events:
					if !open {
						return nil
					}

					mu.Lock()
					dup := seen.Has(ev.ID)
					if !dup {
						seen.Put(ev.ID)
					}
					mu.Unlock()

					if !dup {
						handle(toEnvelope(ev))
					}
				}
			}
		})
	}

	return g.Wait()
}

// Publish signs the envelope as a text note and submits it to every
// relay, succeeding when at least one accepts it.
func (c *Client) Publish(ctx context.Context, env *core.Envelope) error {
	ev := gonostr.Event{
		PubKey:    c.pub,
		CreatedAt: gonostr.Now(),
		Kind:      gonostr.KindTextNote,
		Content:   string(env.Body),
	}
	if env.Sig != "" {
		ev.Tags = gonostr.Tags{gonostr.Tag{sigTag, env.Sig}}
	}
	if err := ev.Sign(c.sk); err != nil {
		return fmt.Errorf("nostr: sign event: %w", err)
	}

	var (
		ok      int
		lastErr error
	)
	for _, url := range c.cfg.Relays {
		if err := c.publishRelay(ctx, url, ev); err != nil {
			c.logger.Warn("relay publish failed", "relay", url, "err", err)
			lastErr = err
			continue
		}
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("nostr: publish rejected everywhere: %w", lastErr)
	}

	env.ID = ev.ID
	env.Sender = ev.PubKey
	return nil
}

func (c *Client) publishRelay(ctx context.Context, url string, ev gonostr.Event) error {
	relay, err := gonostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer relay.Close()

	return relay.Publish(ctx, ev)
}

func toEnvelope(ev *gonostr.Event) *core.Envelope {
	sig := ""
	if tag := ev.Tags.GetFirst([]string{sigTag}); tag != nil {
		sig = tag.Value()
	}

	return &core.Envelope{
		ID:        ev.ID,
		Sender:    ev.PubKey,
		Body:      []byte(ev.Content),
		Sig:       sig,
		CreatedAt: ev.CreatedAt.Time(),
	}
}
