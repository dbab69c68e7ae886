package cmd

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/transport/nostr"
)

var fetchOpt struct {
	listen bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "pull notes from quorum participants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		transport, err := e.transport()
		if err != nil {
			return err
		}

		routerz, err := e.router()
		if err != nil {
			return err
		}

		authors, err := quorumAuthors(cmd.Context(), e.accounts)
		if err != nil {
			return err
		}

		if fetchOpt.listen {
			return transport.Listen(cmd.Context(), authors, func(env *core.Envelope) {
				entries, err := routerz.Ingest(cmd.Context(), []*core.Envelope{env})
				if err != nil || len(entries) == 0 {
					return
				}
				if err := routerz.Keep(cmd.Context(), entries); err != nil {
					return
				}
				_ = printJson(cmd, entries)
			})
		}

		lookback := e.v.GetDuration("nostr.lookback")
		if lookback == 0 {
			lookback = nostr.DefaultLookback
		}

		envs, err := transport.Fetch(cmd.Context(), authors, time.Now().Add(-lookback))
		if err != nil {
			return err
		}

		entries, err := routerz.Ingest(cmd.Context(), envs)
		if err != nil {
			return err
		}

		if err := routerz.Keep(cmd.Context(), entries); err != nil {
			return err
		}

		return printJson(cmd, entries)
	},
}

// quorumAuthors collects the x-only pubkeys of every participant
// across all accounts; the feed is filtered to them.
func quorumAuthors(ctx context.Context, accounts core.AccountStore) ([]string, error) {
	list, err := accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var authors []string
	for _, a := range list {
		participants, err := accounts.Participants(ctx, a.ID)
		if err != nil {
			return nil, err
		}

		for _, p := range participants {
			prefix, value, err := nip19.Decode(p.NPub)
			if err != nil || prefix != "npub" {
				continue
			}
			pub := value.(string)
			if _, ok := seen[pub]; ok {
				continue
			}
			seen[pub] = struct{}{}
			authors = append(authors, pub)
		}
	}

	return authors, nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().BoolVarP(&fetchOpt.listen, "listen", "l", false, "poll for new notes continuously")
}
