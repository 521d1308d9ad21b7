package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	flowcoach "github.com/jeffreydebolt/Flowcoach2-sub000"
	"github.com/jeffreydebolt/Flowcoach2-sub000/catalog"
	"github.com/jeffreydebolt/Flowcoach2-sub000/config"
)

type rootFlags struct {
	configPath  string
	logLevel    string
	database    string
	definitions string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "flowcoach",
		Short:         "flowcoach: GTD coaching agents and workflows",
		Long:          "Routes messages to GTD agents and runs multi-step coaching workflows such as project breakdown and weekly review.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.database, "db", "", "SQLite DSN for persistent contexts")
	root.PersistentFlags().StringVar(&flags.definitions, "definitions", "", "Catalog URL with agents/ and workflows/ folders")

	root.AddCommand(
		chatCmd(flags),
		agentsCmd(flags),
		workflowsCmd(flags),
		statusCmd(flags),
		validateCmd(flags),
	)

	return root
}

// loadConfig reads the config file and applies flag overrides.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}

	if f.database != "" {
		cfg.Session.Database = f.database
	}

	if f.definitions != "" {
		cfg.Definitions = f.definitions
	}

	return cfg, cfg.Validate()
}

// open builds a FlowCoach logging to stderr.
func (f *rootFlags) open(cmd *cobra.Command) (*flowcoach.FlowCoach, *config.Config, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	coach, err := flowcoach.FromConfig(cmd.Context(), cfg, func(o *flowcoach.Options) {
		o.Logger = logger
	})
	if err != nil {
		return nil, nil, err
	}

	return coach, cfg, nil
}

func agentsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents and their commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			coach, cfg, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer coach.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOMMANDS")

			for _, a := range coach.Registry().ListAgents() {
				cmds := make([]string, len(a.Commands))
				for i, c := range a.Commands {
					cmds[i] = cfg.Registry.Prefix + c
				}

				fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Name, strings.Join(cmds, " "))
			}

			return w.Flush()
		},
	}
}

func workflowsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			coach, _, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer coach.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tAGENTS")

			for _, wf := range coach.Engine().Workflows() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", wf.ID, wf.Name, wf.Steps, strings.Join(wf.Agents, ","))
			}

			return w.Flush()
		},
	}
}

func statusCmd(flags *rootFlags) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List a user's workflow executions",
		Long:  "Lists running, waiting and finished executions. With --db, executions of earlier sessions are included.",
		RunE: func(cmd *cobra.Command, args []string) error {
			coach, _, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer coach.Close()

			history, err := coach.Engine().History(cmd.Context(), userID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTION\tWORKFLOW\tSTATUS\tSTEP\tSTARTED")

			for _, st := range history {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.ID, st.WorkflowID, st.Status, st.CurrentStep, st.StartedAt.Format(time.RFC3339))
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id whose workflows are listed")

	return cmd
}

func validateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog-url]",
		Short: "Validate agent and workflow definitions in a catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := flags.definitions
			if len(args) == 1 {
				url = args[0]
			}

			if url == "" {
				cfg, err := flags.loadConfig()
				if err != nil {
					return err
				}

				url = cfg.Definitions
			}

			if url == "" {
				return fmt.Errorf("no catalog url: pass one or set --definitions")
			}

			return validate(cmd.Context(), cmd.OutOrStdout(), url)
		},
	}
}

// validate loads the catalog and checks that every workflow step names an
// agent that is either built in or defined in the catalog.
func validate(ctx context.Context, out io.Writer, url string) error {
	defs, err := catalog.New().Load(ctx, url)
	if err != nil {
		return err
	}

	coach, err := flowcoach.New()
	if err != nil {
		return err
	}
	defer coach.Close()

	known := map[string]bool{}
	for _, a := range coach.Registry().ListAgents() {
		known[a.ID] = true
	}

	for _, a := range defs.Agents {
		known[a.ID] = true
	}

	var problems []string

	for _, wf := range defs.Workflows {
		for _, id := range wf.Agents() {
			if !known[id] {
				problems = append(problems, fmt.Sprintf("workflow %s: unknown agent %q", wf.ID(), id))
			}
		}
	}

	sort.Strings(problems)

	for _, p := range problems {
		fmt.Fprintln(out, p)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s) found", len(problems))
	}

	fmt.Fprintf(out, "ok: %d agent(s), %d workflow(s)\n", len(defs.Agents), len(defs.Workflows))

	return nil
}

// janitor sweeps expired contexts, old executions and expired workflow
// snapshots until ctx is done.
func janitor(ctx context.Context, coach *flowcoach.FlowCoach, cfg *config.Config) {
	interval := time.Duration(cfg.Session.CleanupInterval)
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := coach.Cleanup(ctx, time.Duration(cfg.Engine.RetainCompleted))
				if err != nil {
					coach.Logger().Warn("cleanup failed", "error", err)
					continue
				}

				coach.Logger().Debug("cleanup finished", "contexts", stats.Contexts, "executions", stats.Executions, "states", stats.States)
			}
		}
	}()
}
