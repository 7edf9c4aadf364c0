package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/laniot/laniot-signer/pkg/signer"
)

var (
	SignIP       string
	SignDNS      string
	SignDays     int
	SignOutKey   string
	SignOutChain string
)

func init() {
	signCmd.Flags().StringVar(&SignIP, "ip", "", "Device IPv4 address, added as an IP subject alternative name")
	signCmd.Flags().StringVar(&SignDNS, "dns", "", "Optional device DNS name, added as a DNS subject alternative name")
	signCmd.Flags().IntVar(&SignDays, "days", 0, "Certificate validity in days [1-365]. Uses the configured default when 0")
	signCmd.Flags().StringVar(&SignOutKey, "out-key", "", "Write the device private key to this file instead of STDOUT")
	signCmd.Flags().StringVar(&SignOutChain, "out-chain", "", "Write the certificate chain to this file instead of STDOUT")
	signCmd.MarkFlagRequired("ip")
	rootCmd.AddCommand(signCmd)
}

var signCmd = &cobra.Command{
	Use:   "sign <device-id>",
	Short: "Issues a device key and leaf certificate",
	Long: `Generates a P-256 device key and a leaf certificate signed by the
configured intermediate CA without starting the web service. The chain
contains the leaf followed by the intermediate certificate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		if ip := net.ParseIP(SignIP); ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address: %q", SignIP)
		}

		if err := initSigner(); err != nil {
			return err
		}

		var days *int
		if SignDays != 0 {
			days = &SignDays
		}

		result, err := App.Signer.SignLeaf(cmd.Context(), &signer.SigningRequest{
			DeviceID: args[0],
			IP:       SignIP,
			DNS:      SignDNS,
			Days:     signer.ResolveDays(days, App.Config.Signer.DefaultDays),
		})
		if err != nil {
			App.Logger.Error(err)
			return err
		}

		if err := writeOutput(cmd, SignOutKey, result.DeviceKeyPEM); err != nil {
			return err
		}
		return writeOutput(cmd, SignOutChain, result.ChainPEM)
	},
}

// Writes data to path, or to the command output when path is empty
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := afero.WriteFile(App.Fs, path, data, 0600); err != nil {
		return err
	}
	App.Logger.Infof("wrote %s", path)
	return nil
}
