package cmd

import (
	"encoding/hex"

	"github.com/spf13/cobra"

	"github.com/looncoop/loon/descriptor"
	"github.com/looncoop/loon/fingerprint"
)

var descCmd = &cobra.Command{
	Use:   "desc",
	Short: "descriptor operations",
}

var descInfoCmd = &cobra.Command{
	Use:   "info <descriptor>",
	Short: "parse a descriptor and report its quorum identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := descriptor.Parse(args[0])
		if err != nil {
			return err
		}

		fp := fingerprint.Derive([]byte(d.Canonical()))

		keys := make([]map[string]any, 0, len(d.Keys()))
		for _, k := range d.Keys() {
			keys = append(keys, map[string]any{
				"fingerprint": hex.EncodeToString(k.Origin.Fingerprint[:]),
				"xpub":        k.XPub,
			})
		}

		return printJson(cmd, map[string]any{
			"canonical":    d.Canonical(),
			"fingerprint":  hex.EncodeToString(fp[:]),
			"threshold":    d.Threshold(),
			"keys":         keys,
			"has_internal": d.HasInternal(),
		})
	},
}

var descCanonicalCmd = &cobra.Command{
	Use:   "canonical <descriptor>",
	Short: "print the canonical descriptor form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := descriptor.Parse(args[0]); err != nil {
			return err
		}

		cmd.Println(descriptor.Canonicalize(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(descCmd)
	descCmd.AddCommand(descInfoCmd, descCanonicalCmd)
}
