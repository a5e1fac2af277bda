package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/raphi011/qaspace"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "qaspace",
		Short:         "Inspect and serve the results of BDD test runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path of the config file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(flags),
		newRunsCmd(flags),
		newShowCmd(flags),
	)

	return cmd
}

func (f *rootFlags) setup() (qaspace.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := qaspace.LoadConfig(f.configFile)
	if err != nil {
		return qaspace.Config{}, nil, err
	}

	return cfg, log, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve saved runs over http",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			s, err := qaspace.NewServerFromConfig(cfg, log)
			if err != nil {
				return err
			}

			if err := s.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()

			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return s.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", qaspace.DefaultServerPort, "port used by the server")

	return cmd
}

func newRunsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}

			s, err := qaspace.OpenStorage(cfg.Storage, log)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.LoadRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading runs: %w", err)
			}

			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
}

func newShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run with all of its test results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}

			s, err := qaspace.OpenStorage(cfg.Storage, log)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading run: %w", err)
			}

			return printRun(cmd.OutOrStdout(), run)
		},
	}
}

func printRuns(out io.Writer, runs []qaspace.Run) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tNAME\tENVIRONMENT\tEND")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Environment, r.End.Format(time.RFC3339))
	}

	return w.Flush()
}

func printRun(out io.Writer, run qaspace.Run) error {
	summary := run.Summary()

	fmt.Fprintf(out, "run %s (%s) %s: %d tests, %d failed\n\n", run.ID, run.Name, summary.Result, summary.Tests, summary.Failed)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "SEQ\tKEY\tSTATUS\tTIME\tATTACHMENTS")

	for _, tr := range run.Results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", tr.Seq, tr.Key, tr.Status, tr.Time, len(tr.Attachments))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	for _, tr := range run.Results {
		for _, e := range tr.Exceptions {
			fmt.Fprintf(out, "\n%s: %s\n", tr.Key, e)
		}
	}

	return nil
}
