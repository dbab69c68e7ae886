package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/looncoop/loon/core"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "database operations",
}

var dbAccountCmd = &cobra.Command{
	Use:   "account <nick> <descriptor>",
	Short: "add a new quorum account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := e.accounts.Import(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		return printJson(cmd, a)
	},
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "list accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		accounts, err := e.accounts.List(cmd.Context())
		if err != nil {
			return err
		}

		return printJson(cmd, accounts)
	},
}

var dbNickCmd = &cobra.Command{
	Use:   "nick <nick>",
	Short: "rename an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		return e.accounts.SetNick(cmd.Context(), accountID, args[0])
	},
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "delete an account and its participants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		return e.accounts.Delete(cmd.Context(), accountID)
	},
}

var dbFriendCmd = &cobra.Command{
	Use:   "friend <quorum_id> <npub> <alias>",
	Short: "add a participant to an existing quorum",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		index, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		p := &core.Participant{
			AccountID:   accountID,
			QuorumIndex: index,
			NPub:        args[1],
			Alias:       args[2],
		}
		if err := e.accounts.AddParticipant(cmd.Context(), p); err != nil {
			return err
		}

		return printJson(cmd, p)
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbAccountCmd, dbListCmd, dbNickCmd, dbDeleteCmd, dbFriendCmd)
}
