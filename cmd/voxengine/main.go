// VoxEngine: a voice command engine with a terminal console.
//
// Usage:
//
//	voxengine run [--config voxengine.toml] [--input whisper] [--output azure] [--server]
//	voxengine parse "take a note buy milk" --screen notes
//	voxengine commands [--screen notes]
//	voxengine diagnose [--addr 127.0.0.1:8765] [--follow]
package main

import (
	stdlog "log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hammamikhairi/voxengine/internal/config"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "voxengine",
	Short: "Voice command engine",
	Long: `VoxEngine listens for spoken commands, matches them against per-screen
command tables, runs the matching handler and speaks the result back.

Without a microphone it runs on typed input: every line you type is treated
as one utterance.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./"+config.DefaultPath+" when present)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug logging")
	pf.BoolVar(&quiet, "quiet", false, "disable all logging")
	pf.StringVar(&logFile, "log-file", "", `file to write logs to ("stderr" to log to the console)`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env and the config file, then applies the global flags
// the user actually set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") && verbose {
		cfg.Log.Level = "verbose"
	}
	if flags.Changed("quiet") && quiet {
		cfg.Log.Level = "off"
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	return cfg, nil
}

// newLogger builds the application logger. Go's default log package, used
// by the whisper transcriber, is redirected to the same output so it does
// not spam the terminal.
func newLogger(lc config.LogConfig) *logger.Logger {
	level := logger.ParseLevel(lc.Level)

	var log *logger.Logger
	if lc.File == "" || lc.File == "stderr" {
		log = logger.New(level, os.Stderr)
	} else {
		log = logger.NewFile(level, logger.FileConfig{
			Path:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
		})
	}

	stdlog.SetOutput(log.Writer())
	stdlog.SetFlags(stdlog.Ltime)
	return log
}
