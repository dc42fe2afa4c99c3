/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/settings"
	"github.com/allbin/serialconsole/link"
)

// screenAnnotation marks commands that own the terminal; their diagnostic
// logs go to --debug-log or nowhere.
const screenAnnotation = "screen"

var (
	cfgFile  string
	debugLog string

	v      = viper.New()
	logger = zap.NewNop().Sugar()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "serialconsole",
	Short: "Serial port console that rides out unplugged devices",
	Long: `A serial port console with automatic reconnect.

The port, line settings and session log are read from a YAML config file,
SERIALCONSOLE_* environment variables and command line flags, in increasing
order of precedence. The config file is watched while the console runs and
changes are applied without reopening the port.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := setup(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/serialconsole/config.yaml)")
	rootCmd.PersistentFlags().String(settings.KeyLogLevel, "info", "diagnostic log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&debugLog, "debug-log", "", "write diagnostic logs to this file")
}

func setup(cmd *cobra.Command) error {
	if err := settings.Init(v, cfgFile); err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	l, err := newLogger(v.GetString(settings.KeyLogLevel), debugLog, cmd.Annotations[screenAnnotation] != "")
	if err != nil {
		return err
	}
	logger = l
	logger.Debugw("config loaded", "file", v.ConfigFileUsed())
	return nil
}

// newLogger builds the diagnostic logger. Without a path, screen commands
// discard logs and the others write to stderr.
func newLogger(level, path string, screen bool) (*zap.SugaredLogger, error) {
	if screen && path == "" {
		return zap.NewNop().Sugar(), nil
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	if path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return l.Sugar(), nil
}

// loadSettings decodes the merged configuration and picks its driver.
func loadSettings() (settings.Settings, serial.Driver, error) {
	s, err := settings.Load(v)
	if err != nil {
		return s, nil, err
	}
	driver, err := s.SerialDriver()
	return s, driver, err
}

func newLink(s settings.Settings, driver serial.Driver) (*link.Link, error) {
	l := link.New(driver, link.WithLogger(logger.Named("link")))
	if err := settings.Apply(l, s); err != nil {
		return nil, err
	}
	return l, nil
}
