package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"clipster/internal/config"
	xlog "clipster/internal/log"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "clipster.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "clipster",
		Short:         "Fetch media through a download backend",
		Long:          "Clipster submits a media URL to a download backend, follows the job over its push channel and saves the result.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to clipster config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "emit logs as JSON instead of console text")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDetectCmd())
	cmd.AddCommand(newInfoCmd(opts))
	cmd.AddCommand(newDownloadCmd(opts))
	return cmd
}

// load reads .env, the config file and sets up logging. The default config
// path may be absent; an explicit --config must exist.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(o.configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := o.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	xlog.Configure(xlog.Config{
		Level:  level,
		Output: cmd.ErrOrStderr(),
		Pretty: !o.jsonLogs,
	})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipster %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
