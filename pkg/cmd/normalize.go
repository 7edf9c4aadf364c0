package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/laniot/laniot-signer/pkg/ca"
)

var NormalizeOut string

func init() {
	normalizeCmd.Flags().StringVarP(&NormalizeOut, "out", "o", "", "Write the PEM to this file instead of STDOUT")
	rootCmd.AddCommand(normalizeCmd)
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <cert|key> <value|path|->",
	Short: "Converts certificate or key material to canonical PEM",
	Long: `Accepts PEM (including escaped, quoted or single-line PEM), base64 or
base64url encoded PEM or DER, or a path to a certificate or key file, and
prints the canonical PEM. Use "-" to read the value from STDIN.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {

		kind, err := ca.ParseKind(args[0])
		if err != nil {
			return err
		}

		raw := args[1]
		if raw == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			raw = string(data)
		}

		if err := initApp(); err != nil {
			return err
		}

		pemBytes, err := App.Normalizer.Normalize(raw, kind)
		if err != nil {
			App.Logger.Error(err)
			return err
		}
		return writeOutput(cmd, NormalizeOut, pemBytes)
	},
}
