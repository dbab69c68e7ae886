package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/looncoop/loon/core"
)

var callOpt struct {
	id     int
	alias  string
	note   string
	ack    bool
	nack   bool
	sign   bool
	dryrun bool
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "push notes to quorum participants",
}

var callNewCmd = &cobra.Command{
	Use:   "new",
	Short: "construct a new private note",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		kind := core.EntryNote
		switch {
		case callOpt.ack && callOpt.nack:
			return errors.New("pick one of --ack and --nack")
		case callOpt.ack:
			kind = core.EntryAck
		case callOpt.nack:
			kind = core.EntryNack
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		routerz, err := e.router()
		if err != nil {
			return err
		}

		index, err := resolveRecipient(cmd, e, accountID)
		if err != nil {
			return err
		}

		if callOpt.dryrun {
			env, err := routerz.Post(cmd.Context(), accountID, index, kind, callOpt.note, callOpt.sign)
			if err != nil {
				return err
			}
			cmd.Println(string(env.Body))
			return nil
		}

		env, err := routerz.Send(cmd.Context(), accountID, index, kind, callOpt.note, callOpt.sign)
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"event_id":  env.ID,
			"recipient": index,
		})
	},
}

var callPushCmd = &cobra.Command{
	Use:   "push <note>",
	Short: "push a plain text note",
	Args:  cobra.ExactArgs(1),
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

		env := &core.Envelope{Body: []byte(args[0]), CreatedAt: time.Now()}
		if err := transport.Publish(cmd.Context(), env); err != nil {
			return err
		}

		return printJson(cmd, map[string]any{"event_id": env.ID})
	},
}

func resolveRecipient(cmd *cobra.Command, e *env, accountID int64) (int, error) {
	if callOpt.alias == "" {
		if callOpt.id < 0 {
			return 0, errors.New("recipient required; pass --id or --to")
		}
		return callOpt.id, nil
	}

	participants, err := e.accounts.Participants(cmd.Context(), accountID)
	if err != nil {
		return 0, err
	}

	for _, p := range participants {
		if p.Alias == callOpt.alias {
			return p.QuorumIndex, nil
		}
	}

	return 0, fmt.Errorf("no participant with alias %q", callOpt.alias)
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.AddCommand(callNewCmd, callPushCmd)

	callNewCmd.Flags().IntVar(&callOpt.id, "id", -1, "recipient quorum index")
	callNewCmd.Flags().StringVarP(&callOpt.alias, "to", "t", "", "recipient alias")
	callNewCmd.Flags().StringVarP(&callOpt.note, "note", "m", "", "text")
	callNewCmd.Flags().BoolVar(&callOpt.ack, "ack", false, "affirmative")
	callNewCmd.Flags().BoolVar(&callOpt.nack, "nack", false, "negative")
	callNewCmd.Flags().BoolVarP(&callOpt.sign, "sign", "s", false, "attach a provenance signature")
	callNewCmd.Flags().BoolVarP(&callOpt.dryrun, "dryrun", "d", false, "preview the call without sending")
}
