package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
)

// Version is set at build time
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	log *logger.Logger
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "bill-scraper",
		Short:         "Downloads vendor billing PDFs and mails them to accounts payable",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(&logger.Config{Level: opts.logLevel, Format: opts.logFormat})
			if err != nil {
				return err
			}
			opts.log = l
			slog.SetDefault(l.Logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or %s)", config.PathEnv, config.DefaultPath))
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(
		serveCmd(opts),
		runCmd(opts),
		jobStatusCmd(opts),
		serviceCmd(opts),
		pdfWordsCmd(opts),
		emailTestCmd(opts),
		updateCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *rootOptions) path() string {
	return config.ResolvePath(o.configPath)
}
