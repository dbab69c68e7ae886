package cmd

import (
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "get the best block hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := getEnv()
		if err != nil {
			return err
		}
		defer cleanup()

		source, err := e.chain()
		if err != nil {
			return err
		}
		defer source.Close()

		hash, height, err := source.BestBlock(cmd.Context())
		if err != nil {
			return err
		}

		return printJson(cmd, map[string]any{
			"hash":   hash.String(),
			"height": height,
		})
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
