// Command docgen runs the document pipeline from the command line.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docbatch/backend/internal/config"
	"github.com/docbatch/backend/internal/logging"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	quiet      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "docgen",
		Short:        "Generate one document per spreadsheet row",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults are used when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress logs")

	root.AddCommand(
		newInspectCommand(opts),
		newPlanCommand(opts),
		newGenerateCommand(opts),
	)
	return root
}

// loadConfig returns the config file when given, otherwise defaults rooted
// in a scratch directory that the caller must remove.
func (o *rootOptions) loadConfig() (*config.AppConfig, func(), error) {
	if o.configPath != "" {
		cfg, err := config.LoadConfig(o.configPath)
		return cfg, func() {}, err
	}

	dir, err := os.MkdirTemp("", "docgen-*")
	if err != nil {
		return nil, nil, err
	}
	cfg := config.DefaultConfig()
	cfg.Storage = config.StorageConfig{
		DataDirectory:      dir,
		UploadsDirectory:   filepath.Join(dir, "uploads"),
		TemplatesDirectory: filepath.Join(dir, "templates"),
		TempDirectory:      filepath.Join(dir, "temp"),
		ArchivesDirectory:  filepath.Join(dir, "archives"),
	}
	if err := cfg.Validate(); err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	return cfg, func() { os.RemoveAll(dir) }, nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	if o.quiet {
		return logging.Discard()
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), o.logLevel, "text")
}
