package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/laniot/laniot-signer/pkg/ca"
	"github.com/laniot/laniot-signer/pkg/config"
	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/secret"
	"github.com/laniot/laniot-signer/pkg/signer"
	"github.com/laniot/laniot-signer/pkg/workspace"
)

const Name = config.Name

type App struct {
	Config         *config.Config
	Fs             afero.Fs
	IntermediateCA *signer.IntermediateCA
	Logger         *logging.Logger
	Normalizer     *secret.Normalizer
	Operations     ca.Operations
	Registry       *prometheus.Registry
	Signer         *signer.Signer
	Workspaces     *workspace.Manager
}

type InitParams struct {
	ConfigDir string
	Debug     bool
	// Overrides the configured intermediate key password
	KeyPassword []byte
	LogDir      string
	// Defaults to the global viper instance so cobra flag bindings apply
	Viper *viper.Viper
	// Defaults to the operating system filesystem
	Fs afero.Fs
}

func NewApp() *App {
	return new(App)
}

// Loads the configuration, initializes the logger and builds the CA
// operations backend and normalizer. The intermediate CA is not loaded;
// call LoadCA before signing.
func (app *App) Init(params *InitParams) (*App, error) {
	if params == nil {
		params = &InitParams{}
	}
	v := params.Viper
	if v == nil {
		v = viper.GetViper()
	}
	app.Fs = params.Fs
	if app.Fs == nil {
		app.Fs = afero.NewOsFs()
	}

	cfg, err := config.Load(v, params.ConfigDir)
	if err != nil {
		return nil, err
	}
	if params.Debug {
		cfg.Debug = true
	}
	if params.LogDir != "" {
		cfg.LogDir = params.LogDir
	}
	if len(params.KeyPassword) > 0 {
		cfg.Signer.IntermediateKeyPassword = string(params.KeyPassword)
	}
	app.Config = cfg

	if err := app.initLogger(); err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() != "" {
		app.Logger.Infof("using configuration file: %s", v.ConfigFileUsed())
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var linter *ca.Linter
	if cfg.Signer.Lint {
		linter, err = ca.NewLinter(app.Logger, cfg.Signer.SkipLints)
		if err != nil {
			return nil, err
		}
	}
	app.Operations = ca.NewNativeOperations(&ca.Params{
		Logger:      app.Logger,
		KeyPassword: app.keyPassword(),
		Linter:      linter,
	})
	app.Normalizer = secret.NewNormalizer(&secret.Params{
		Logger:     app.Logger,
		Fs:         app.Fs,
		Operations: app.Operations,
	})
	app.Workspaces = workspace.NewManager(&workspace.Params{
		Logger:  app.Logger,
		Fs:      app.Fs,
		BaseDir: cfg.Workspace.BaseDir,
	})
	return app, nil
}

// Normalizes and verifies the configured intermediate CA and builds the
// signer around it. Without valid CA material the signer is unusable, so
// callers treat an error here as fatal.
func (app *App) LoadCA() error {
	intermediate, err := signer.LoadIntermediateCA(
		app.Normalizer,
		app.Config.Signer.IntermediateCert,
		app.Config.Signer.IntermediateKey,
		app.keyPassword())
	if err != nil {
		return err
	}
	app.IntermediateCA = intermediate
	app.Signer = signer.NewSigner(&signer.Params{
		Logger:         app.Logger,
		Operations:     app.Operations,
		Normalizer:     app.Normalizer,
		Workspaces:     app.Workspaces,
		IntermediateCA: intermediate,
		Registerer:     app.Registry,
	})
	app.Logger.Info("intermediate CA loaded",
		"subject", intermediate.Subject(),
		"not_after", intermediate.Certificate().NotAfter)
	return nil
}

func (app *App) keyPassword() []byte {
	if app.Config.Signer.IntermediateKeyPassword == "" {
		return nil
	}
	return []byte(app.Config.Signer.IntermediateKeyPassword)
}

// JSON to <log-dir>/laniot-signer.log when a log directory is configured,
// JSON to stdout otherwise. Debug mode adds text output on stdout.
func (app *App) initLogger() error {
	level := slog.LevelInfo
	if app.Config.Debug {
		level = slog.LevelDebug
	}
	if app.Config.LogDir == "" {
		if app.Config.Debug {
			app.Logger = logging.NewWriterLogger(level, nil, os.Stdout)
		} else {
			app.Logger = logging.NewWriterLogger(level, os.Stdout, nil)
		}
		return nil
	}
	logFile, err := app.initLogFile()
	if err != nil {
		return err
	}
	app.Logger = logging.NewLogger(level, logFile)
	app.Logger.Debug("starting logger in debug mode")
	return nil
}

func (app *App) initLogFile() (afero.File, error) {
	if err := app.Fs.MkdirAll(app.Config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("app: unable to create log directory: %w", err)
	}
	path := filepath.Join(app.Config.LogDir, fmt.Sprintf("%s.log", Name))
	f, err := app.Fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("app: unable to open log file: %w", err)
	}
	return f, nil
}
