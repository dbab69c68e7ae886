package cmd

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "wallet operations",
}

var walletSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "sync with the blockchain",
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

		engine, err := e.engine()
		if err != nil {
			return err
		}

		state, err := engine.Sync(cmd.Context(), accountID)
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"tip_height": state.TipHeight,
			"tip_hash":   state.TipHash.String(),
			"utxos":      len(state.UTXOs),
		})
	},
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "get wallet balance",
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

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		balance, err := engine.Balance(accountID)
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"confirmed":   balance.Confirmed.String(),
			"unconfirmed": balance.Unconfirmed.String(),
			"total":       balance.Total().String(),
		})
	},
}

var walletWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "display the alias for the current user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		sk, err := e.secret()
		if err != nil {
			return err
		}

		pub, err := gonostr.GetPublicKey(sk)
		if err != nil {
			return err
		}

		npub, err := nip19.EncodePublicKey(pub)
		if err != nil {
			return err
		}

		out := map[string]any{"npub": npub}

		if accountID := viper.GetInt64("account_id"); accountID != 0 {
			participants, err := e.accounts.Participants(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			for _, p := range participants {
				if p.NPub == npub {
					out["alias"] = p.Alias
					out["quorum_id"] = p.QuorumIndex
					break
				}
			}
		}

		return printJson(cmd, out)
	},
}

var addressOpt struct {
	keychain uint8
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "addresses",
}

var addressNextCmd = &cobra.Command{
	Use:   "next",
	Short: "next unused address",
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

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		addr, err := engine.NextAddress(cmd.Context(), accountID)
		if err != nil {
			return err
		}

		cmd.Println(addr.String())
		return nil
	},
}

var addressPeekCmd = &cobra.Command{
	Use:   "peek <index>",
	Short: "peek at a given keychain index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		index, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := e.engine()
		if err != nil {
			return err
		}

		addr, err := engine.Address(cmd.Context(), accountID, core.Keychain(addressOpt.keychain), uint32(index))
		if err != nil {
			return err
		}

		cmd.Println(addr.String())
		return nil
	},
}

var addressListCmd = &cobra.Command{
	Use:   "list",
	Short: "list used addresses",
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

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		state, err := engine.State(accountID)
		if err != nil {
			return err
		}

		kc := core.Keychain(addressOpt.keychain)
		last, ok := state.LastUsed[kc]
		if !ok {
			return printJson(cmd, []string{})
		}

		addrs := make([]string, 0, last+1)
		for i := uint32(0); i <= last; i++ {
			addr, err := engine.Address(cmd.Context(), accountID, kc, i)
			if err != nil {
				return err
			}
			addrs = append(addrs, addr.String())
		}

		return printJson(cmd, addrs)
	},
}

var txOpt struct {
	feerate string
	unspent bool
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "transactions",
}

var txNewCmd = &cobra.Command{
	Use:   "new <recipient> <value>",
	Short: "draft an unsigned spend",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		value, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}

		feerate, err := decimal.NewFromString(txOpt.feerate)
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		recipients := []core.Recipient{{Address: args[0], Amount: btcutil.Amount(value)}}
		proposal, err := engine.BuildProposal(cmd.Context(), accountID, recipients, wallet.FeePerKb(feerate))
		if err != nil {
			return err
		}

		packet, err := proposal.Packet.B64Encode()
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"id":     proposal.ID,
			"fee":    proposal.Fee.String(),
			"inputs": proposal.Inputs,
			"psbt":   packet,
		})
	},
}

var txPickCmd = &cobra.Command{
	Use:   "pick <value>",
	Short: "preview which outputs a spend would consume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		value, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		feerate, err := decimal.NewFromString(txOpt.feerate)
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		selected, err := engine.SelectInputs(cmd.Context(), accountID, btcutil.Amount(value), wallet.FeePerKb(feerate))
		if err != nil {
			return err
		}

		return printJson(cmd, selected)
	},
}

var txAcceptCmd = &cobra.Command{
	Use:   "accept <psbt>",
	Short: "finalize a signed packet and broadcast it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := requireAccount()
		if err != nil {
			return err
		}

		packet, err := psbt.NewFromRawBytes(strings.NewReader(args[0]), true)
		if err != nil {
			return err
		}

		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := e.engine()
		if err != nil {
			return err
		}

		txid, err := engine.AcceptSigned(cmd.Context(), accountID, packet)
		if err != nil {
			return err
		}

		cmd.Println(txid.String())
		return nil
	},
}

var txOutCmd = &cobra.Command{
	Use:   "out",
	Short: "list tx outputs",
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

		engine, err := e.engine()
		if err != nil {
			return err
		}

		if _, err := engine.Sync(cmd.Context(), accountID); err != nil {
			return err
		}

		state, err := engine.State(accountID)
		if err != nil {
			return err
		}

		utxos := state.UTXOs
		if txOpt.unspent {
			unspent := utxos[:0:0]
			for _, u := range utxos {
				if !u.Spent {
					unspent = append(unspent, u)
				}
			}
			utxos = unspent
		}

		return printJson(cmd, utxos)
	},
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletSyncCmd, walletBalanceCmd, walletWhoamiCmd, addressCmd, txCmd)
	addressCmd.AddCommand(addressNextCmd, addressPeekCmd, addressListCmd)
	txCmd.AddCommand(txNewCmd, txPickCmd, txAcceptCmd, txOutCmd)

	addressPeekCmd.Flags().Uint8VarP(&addressOpt.keychain, "keychain", "k", 0, "keychain")
	addressListCmd.Flags().Uint8VarP(&addressOpt.keychain, "keychain", "k", 0, "keychain")

	txNewCmd.Flags().StringVarP(&txOpt.feerate, "feerate", "f", "1.2", "feerate (sat/vb)")
	txPickCmd.Flags().StringVarP(&txOpt.feerate, "feerate", "f", "1.2", "feerate (sat/vb)")
	txOutCmd.Flags().BoolVarP(&txOpt.unspent, "unspent", "u", false, "list unspent")
}
