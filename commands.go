package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/jobs"
	"github.com/bill-scraper/logger"
	"github.com/bill-scraper/pdfdate"
	"github.com/bill-scraper/server"
	"github.com/bill-scraper/service"
	"github.com/bill-scraper/updater"
)

// load reads the config and switches to the logger it describes, unless
// the log flags were given explicitly
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := service.LoadConfig(o.path())
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") || flags.Changed("log-format") {
		return cfg, nil
	}
	l, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})
	if err != nil {
		return nil, err
	}
	o.log.Close()
	o.log = l
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs, the job worker and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			defer o.log.Close()

			app, err := service.NewApp(cfg, Version, o.log.Logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			onUpdated := func() {
				if err := updater.RestartSelf(o.log.Logger); err != nil {
					o.log.Error("failed to restart after update", "error", err)
				}
			}
			err = app.Serve(ctx, onUpdated)
			o.log.Info("shut down")
			return err
		},
	}
}

func runCmd(o *rootOptions) *cobra.Command {
	var (
		all     bool
		emailTo string
		noEmail bool
	)
	cmd := &cobra.Command{
		Use:   "run [vendor account]",
		Short: "Download bills once and exit; non-zero exit when any account fails",
		Example: `  bill-scraper run --all
  bill-scraper run rogers 1 --email-to ap@example.com`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) != 0 {
				return errors.New("--all takes no arguments")
			}
			if !all && len(args) != 2 {
				return errors.New("give <vendor> <account> or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := jobs.Request{Mode: jobs.ModeAll, RequestedBy: "cli"}
			if !all {
				account, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("account must be an index, got %q", args[1])
				}
				req = jobs.Request{Mode: jobs.ModeSingle, Vendor: args[0], Account: account, RequestedBy: "cli"}
			}

			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			defer o.log.Close()
			if noEmail {
				cfg.Email.Enabled = false
			}
			req.NotifyOverride = emailTo

			app, err := service.NewApp(cfg, Version, o.log.Logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			workerDone := make(chan struct{})
			go func() {
				defer close(workerDone)
				app.RunWorker(ctx)
			}()

			id, err := app.Orchestrator.CreateJob(ctx, req)
			if err != nil {
				stop()
				<-workerDone
				return err
			}
			// Wait outlives ctx so a cancelled job still reports its state
			snap, err := app.Orchestrator.Wait(context.WithoutCancel(ctx), id)
			stop()
			<-workerDone
			if err != nil {
				return err
			}

			printSummary(cmd, snap)
			if snap.Status != jobs.StatusCompleted || snap.Failures() > 0 {
				return fmt.Errorf("job %s: %d of %d accounts failed", snap.Status, snap.TotalUnits-len(snap.Succeeded()), snap.TotalUnits)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "download every configured account")
	cmd.Flags().StringVar(&emailTo, "email-to", "", "send the batch e-mail here instead of the configured recipients")
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "do not send the batch e-mail")
	return cmd
}

func printSummary(cmd *cobra.Command, snap jobs.Snapshot) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Job %s: %s\n", snap.ID, snap.Status)
	for _, r := range snap.Results {
		if r.Success {
			fmt.Fprintf(w, "  OK\t%s\t%s\n", r.Label(), r.FilePath)
		} else {
			fmt.Fprintf(w, "  FAILED\t%s\t%s (%s)\n", r.Label(), r.Reason, r.Stage)
		}
	}
	if snap.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:\t%s\n", snap.ErrorMessage)
	}
	w.Flush()
}

func jobStatusCmd(o *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "job-status <job_id>",
		Short: "Ask a running server for a job's status over gRPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			resp, err := client.GetJobStatus(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Job)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC address of the running server")
	return cmd
}

func serviceCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|status|run>",
		Short:     "Manage the background service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: service.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := service.NewManager(&service.Program{ConfigPath: o.path(), Version: Version})
			if err != nil {
				return err
			}
			return mgr.RunCommand(args[0], o.log.Logger)
		},
	}
}

func pdfWordsCmd(o *rootOptions) *cobra.Command {
	var (
		page   int
		vendor string
	)
	cmd := &cobra.Command{
		Use:   "pdf-words <file.pdf>",
		Short: "List the words of a bill page with coordinates and suggest a date region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := pdfdate.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			glyphs, err := f.Glyphs(page)
			if err != nil {
				return fmt.Errorf("failed to read page %d: %w", page, err)
			}
			words := pdfdate.Words(glyphs)

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TEXT\tX0\tTOP\tX1\tBOTTOM")
			for _, word := range words {
				fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.1f\n", word.Text, word.X0, word.Top, word.X1, word.Bottom)
			}
			w.Flush()

			if region, word, ok := pdfdate.SuggestRegion(words); ok {
				fmt.Fprintf(out, "\nPossible date near %q: date_region: [%g, %g, %g, %g]\n",
					word.Text, region.X0, region.Y0, region.X1, region.Y1)
			} else {
				fmt.Fprintln(out, "\nNo month name found on this page.")
			}

			if vendor == "" {
				return nil
			}
			return checkVendorDate(cmd, o, args[0], vendor)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().StringVar(&vendor, "vendor", "", "also extract the date with this vendor's configured region")
	return cmd
}

func checkVendorDate(cmd *cobra.Command, o *rootOptions, path, vendor string) error {
	cfg, err := config.Load(o.path())
	if err != nil {
		return err
	}
	// credentials are irrelevant here
	profiles, err := cfg.Profiles(func(string) (string, bool) { return "-", true })
	if err != nil {
		return err
	}
	for i := range profiles {
		if profiles[i].Name != vendor {
			continue
		}
		date, ok := pdfdate.NewExtractor(o.log.Logger).ExtractFile(path, &profiles[i])
		if !ok {
			return fmt.Errorf("no %s date found in the configured region", vendor)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s bill date: %s\n", profiles[i].DisplayName(), date.Format("2006-01-02"))
		return nil
	}
	return fmt.Errorf("unknown vendor: %s", vendor)
}

func emailTestCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "email-test",
		Short: "Check that the configured SMTP server accepts our credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			defer o.log.Close()

			app, err := service.NewApp(cfg, Version, o.log.Logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := app.Mailer.TestConnection(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SMTP connection to %s:%d OK\n", cfg.Email.Host, cfg.Email.Port)
			return nil
		},
	}
}

func updateCmd(o *rootOptions) *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace this binary with the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			var updateCfg config.UpdateConfig
			if cfg, err := config.Load(o.path()); err == nil {
				updateCfg = cfg.Update
			}
			u := updater.New(updater.FromConfig(updateCfg, Version), o.log.Logger)

			if checkOnly {
				latest, err := u.LatestVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current %s, latest %s\n", Version, latest)
				return nil
			}

			updated, err := u.CheckAndUpdate(cmd.Context())
			if err != nil {
				return err
			}
			if updated {
				fmt.Fprintln(cmd.OutOrStdout(), "Updated. Restart the service to use the new version.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Already up to date.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report the latest version")
	return cmd
}
