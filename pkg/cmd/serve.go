package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laniot/laniot-signer/pkg/app"
	"github.com/laniot/laniot-signer/pkg/prompt"
	"github.com/laniot/laniot-signer/pkg/webservice"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"webservice"},
	Short:   "Run the signing web service",
	Long: `Loads the intermediate CA and starts the HTTP signing service. The
process exits if the intermediate certificate or key is missing or invalid.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {

		if err := initSigner(); err != nil {
			return err
		}

		if App.Config.Debug {
			prompt.PrintBanner(app.Version)
		}

		wsConfig := &App.Config.WebService
		if wsConfig.Token == "" && wsConfig.JWT.Secret == "" {
			App.Logger.Warn("webservice: no bearer token configured, every signing request will be rejected")
		}

		server, err := webservice.NewWebServer(&webservice.Params{
			Logger:      App.Logger,
			Config:      wsConfig,
			Signer:      App.Signer,
			DefaultDays: App.Config.Signer.DefaultDays,
			Gatherer:    App.Registry,
			Fs:          App.Fs,
		})
		if err != nil {
			App.Logger.Error(err)
			return err
		}

		// Stop the web service on CTRL+C or SIGTERM
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.Run(ctx); err != nil {
			App.Logger.Error(err)
			return err
		}

		App.Logger.Info("Graceful shutdown complete")
		return nil
	},
}
