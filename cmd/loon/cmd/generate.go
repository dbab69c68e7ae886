package cmd

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "generate a keypair",
}

var generateNsecCmd = &cobra.Command{
	Use:   "nsec",
	Short: "generate nostr keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sk := gonostr.GeneratePrivateKey()
		pub, err := gonostr.GetPublicKey(sk)
		if err != nil {
			return err
		}

		nsec, err := nip19.EncodePrivateKey(sk)
		if err != nil {
			return err
		}

		npub, err := nip19.EncodePublicKey(pub)
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"nsec": nsec,
			"npub": npub,
		})
	},
}

var generateWifOpt struct {
	test bool
}

var generateWifCmd = &cobra.Command{
	Use:   "wif",
	Short: "generate a random WIF private key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return err
		}

		params := &chaincfg.MainNetParams
		if generateWifOpt.test {
			params = &chaincfg.TestNet3Params
		}

		wif, err := btcutil.NewWIF(priv, params, true)
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"wif": wif.String(),
		})
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(generateNsecCmd, generateWifCmd)

	generateWifCmd.Flags().BoolVarP(&generateWifOpt.test, "test", "t", false, "key valid for test networks")
}
