//go:build linux

package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jcbhmr/go-spawn/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toml.NewEncoder(os.Stdout).Encode(globalConfig)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the config path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := globalConfigPath
		if path == "" {
			p, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
			return err
		}
		globalLogger.Info("wrote config", "path", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
