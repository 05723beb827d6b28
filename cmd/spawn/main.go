//go:build linux

// Command spawn starts a program through the spawn package and reports
// whether it got as far as running.
//
//	spawn run --stdout out.log -- /bin/echo hello
//	spawn run --search --wait -- ls -l
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jcbhmr/go-spawn/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	globalConfigPath string
	globalVerbose    bool
	globalLogger     *slog.Logger
	globalConfig     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Start programs and report exactly why they did not start",
	Long: `spawn starts a program with fork and exec. Failures while setting up
the new process or executing the program are reported with the errno of the
step that failed, instead of surfacing later as an exit status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init creates the file, so it may not exist yet.
		cfg, err := loadConfig(cmd != configInitCmd)
		if err != nil {
			return err
		}
		globalConfig = cfg

		level, err := cfg.LogLevel()
		if err != nil {
			return err
		}
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config file (default: $XDG_CONFIG_HOME/go-spawn/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file. When mustExist is set, an explicit
// --config that does not exist is an error.
func loadConfig(mustExist bool) (*config.Config, error) {
	path := globalConfigPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return config.DefaultConfig(), nil
		}
		path = p
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if (globalConfigPath == "" || !mustExist) && errors.Is(err, fs.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the spawn version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// exitError carries the exit status of a waited-for child out of RunE.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("child exited with status %d", e.code)
}
