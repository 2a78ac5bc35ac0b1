// Package cmd provides the command-line interface for assetforge.
//
// Configuration sources, highest priority first:
//  1. Command-line flags (--port, --proxy, --log-level, ...)
//  2. Individual environment variables (ASSETFORGE_SERVER_PORT, ...)
//  3. The configuration file: --config, then ASSETFORGE_CONFIG_FILE, then
//     .assetforge.yml in the working directory
//  4. Built-in defaults
//
// Environment variables follow the ASSETFORGE_<SECTION>_<OPTION> pattern,
// e.g. ASSETFORGE_PATHS_DIST=./public or ASSETFORGE_WATCH_DEBOUNCE=100ms.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetforge/internal/config"
	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/pipeline"
)

var (
	cfgFile string
	// configErr holds the failure to read an explicitly named config file.
	configErr error
)

// rootCmd runs the tasks named on the command line.
var rootCmd = &cobra.Command{
	Use:   "assetforge [task...]",
	Short: "Build, watch and live-reload front-end assets",
	Long: `assetforge compiles stylesheets, bundles scripts and copies pages, fonts
and images from a source tree into a distribution tree. Tasks run in
dependency order with independent tasks in parallel.

Without arguments the default task runs: clean the output, then watch
and build everything, then serve the result with live reload.

Examples:
  assetforge                      # clean, watch + build, serve
  assetforge build                # one-off production build
  assetforge styles:dev scripts   # several tasks in one invocation
  assetforge tasks                # list every task`,
	Args:          cobra.ArbitraryArgs,
	RunE:          runTasks,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .assetforge.yml, can also use ASSETFORGE_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.IntP("port", "p", 3000, "development server port")
	flags.String("host", "localhost", "development server host")
	flags.String("proxy", "127.0.0.1:8000", "backend to proxy, empty to serve the output directory")
	flags.Bool("open", true, "open the browser when the server starts")
	flags.Duration("debounce", 0, "delay before dispatching watch events, 0 dispatches every event")
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"port":       "server.port",
	"host":       "server.host",
	"proxy":      "server.proxy",
	"open":       "server.open",
	"debounce":   "watch.debounce",
}

// bindFlags binds the persistent flags into v. It runs on every
// initialization so a reset viper keeps its flag bindings.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if flag := flags.Lookup(name); flag != nil {
			v.BindPFlag(key, flag)
		}
	}
}

// initConfig selects the configuration file and enables ASSETFORGE_
// environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("ASSETFORGE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".assetforge")
	}

	viper.SetEnvPrefix("ASSETFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindFlags(viper.GetViper(), rootCmd.PersistentFlags())

	// A missing .assetforge.yml falls back to defaults; an explicitly named
	// file must be readable.
	configErr = nil
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	case !errors.As(err, &notFound):
		configErr = fmt.Errorf("reading config file: %w", err)
	}
}

// loadConfig reads the configuration and builds the logger for it.
func loadConfig(stderr io.Writer) (*config.Config, logging.Logger, error) {
	if configErr != nil {
		return nil, nil, configErr
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    stderr,
		Component: "assetforge",
	})
	return cfg, logger, nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = []string{pipeline.TaskDefault}
	}

	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return explain(err)
	}

	if err := p.Session(cmd.Context(), names...); err != nil {
		return explain(err)
	}
	return nil
}

// explain adds a hint to errors caused by the task declarations or the
// requested names rather than by an action.
func explain(err error) error {
	var unknown *taskerrors.UnknownTaskError
	switch {
	case errors.As(err, &unknown):
		return fmt.Errorf("%w; run 'assetforge tasks' to list the available tasks", err)
	case taskerrors.IsStructural(err):
		return fmt.Errorf("invalid task graph: %w", err)
	default:
		return err
	}
}
