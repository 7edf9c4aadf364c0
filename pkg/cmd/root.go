package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laniot/laniot-signer/pkg/app"
	"github.com/laniot/laniot-signer/pkg/prompt"
)

var (
	App            *app.App
	InitParams     *app.InitParams
	PromptPassword bool
)

var rootCmd = &cobra.Command{
	Use:   app.Name,
	Short: "LanIoT device certificate signer",
	Long: `Issues short-lived TLS server certificates for LAN IoT devices. Each
request gets a fresh P-256 device key and a leaf certificate signed by the
configured intermediate CA, with the device IP (and optional DNS name) as
subject alternative names.`,
	SilenceUsage:     true,
	TraverseChildren: true,
}

func init() {

	// Set provided initialization parameters for
	// commands package and program entry points
	InitParams = &app.InitParams{}

	rootCmd.PersistentFlags().BoolVarP(&InitParams.Debug, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&InitParams.ConfigDir, "config-dir", "", fmt.Sprintf("/etc/%s", app.Name), "Configuration file directory")
	rootCmd.PersistentFlags().StringVarP(&InitParams.LogDir, "log-dir", "", "", "Log file directory. Logs are written to STDOUT when empty")
	rootCmd.PersistentFlags().BoolVarP(&PromptPassword, "prompt-password", "p", false, "Prompt for the intermediate CA private key password")

	viper.BindPFlags(rootCmd.PersistentFlags())

	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
}

// Initializes the application from flags, config file and environment
func initApp() error {
	if PromptPassword {
		password, err := prompt.KeyPassword()
		if err != nil {
			return err
		}
		InitParams.KeyPassword = password
	}
	var err error
	App, err = app.NewApp().Init(InitParams)
	return err
}

// Initializes the application and loads the intermediate CA
func initSigner() error {
	if err := initApp(); err != nil {
		return err
	}
	if err := App.LoadCA(); err != nil {
		App.Logger.Error(err)
		return err
	}
	return nil
}

func Execute() error {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
	return nil
}
