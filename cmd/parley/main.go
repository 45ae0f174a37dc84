package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/parley/cmd/parley/cmds"
	"github.com/go-go-golems/parley/pkg/config"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley drives multi-turn LLM conversations with tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func initLogging() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func loadSettings() (*config.Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLEY")
	v.AutomaticEnv()

	path := configFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if logLevel == "info" && settings.LogLevel != "" {
		if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	log.Debug().Object("settings", settings).Msg("loaded settings")
	return settings, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.parley/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(cmds.NewChatCommand(loadSettings))
	rootCmd.AddCommand(cmds.NewListCommand(loadSettings))
	rootCmd.AddCommand(cmds.NewShowCommand(loadSettings))
	rootCmd.AddCommand(cmds.NewRevertCommand(loadSettings))
	rootCmd.AddCommand(cmds.NewConfigCommand(loadSettings))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
