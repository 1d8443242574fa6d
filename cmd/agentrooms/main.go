package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/baalimago/go_away_boilerplate/pkg/shutdown"
	"github.com/spf13/cobra"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
	"github.com/zen-systems/agentrooms/pkg/orchestrator"
	"github.com/zen-systems/agentrooms/pkg/rooms"
	"github.com/zen-systems/agentrooms/pkg/router"
	"github.com/zen-systems/agentrooms/pkg/synthesis"
)

var (
	configFile string
	workDir    string
	promptDir  string
)

func main() {
	ancli.SetupSlog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { shutdown.Monitor(cancel) }()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, router.ErrNoProviders) {
			ancli.PrintErr("no providers enabled: set at least one provider credential\n")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrooms",
		Short: "Route a task to LLM providers, run each in its own room, merge the results",
		Long: `Agentrooms classifies a task description, routes it to one or more LLM
	providers, runs each provider in an isolated room that writes its own output
	file, and synthesizes the outputs into a single markdown report.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "working directory for room outputs")
	rootCmd.PersistentFlags().StringVar(&promptDir, "prompts", "", "directory of agent prompts")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(synthesizeCmd())
	rootCmd.AddCommand(outputsCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(routesCmd())
	return rootCmd
}

func analyzeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [task]",
		Short: "Show routing decisions without calling any provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator()
			if err != nil {
				return err
			}
			analysis := o.Analyze(args[0])
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), analysis)
			}
			return printAnalysis(cmd.OutOrStdout(), analysis)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func runCmd() *cobra.Command {
	var sequential bool
	var providers []string
	var skipSynthesis bool

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Execute a task in provider rooms and synthesize the outputs",
		Long: `Analyzes the task, runs every route in its own room (in parallel when
	the policy allows and more than one provider is routed), retries failed routes
	on their fallback provider, and writes final-output.md.

	Use --provider to bypass routing and pick providers explicitly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator(orchestrator.WithObserver(progressObserver(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}

			report, err := o.Run(cmd.Context(), args[0], orchestrator.RunOptions{
				Sequential:    sequential,
				Providers:     providers,
				SkipSynthesis: skipSynthesis,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := printAnalysis(out, report.Analysis); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := printResults(out, report); err != nil {
				return err
			}

			total := len(report.Results) + len(report.Fallbacks)
			switch {
			case total == 0:
				ancli.PrintWarn("no routes matched, nothing was executed\n")
			case report.Succeeded() == 0:
				ancli.PrintErr(fmt.Sprintf("all %d executions failed\n", total))
			default:
				ancli.PrintOK(fmt.Sprintf("%d/%d executions succeeded\n", report.Succeeded(), total))
			}
			if report.FinalOutput != "" {
				ancli.PrintOK(fmt.Sprintf("final output: %s\n", report.FinalOutput))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sequential, "sequential", false, "run rooms one at a time")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "run these providers instead of the routed ones")
	cmd.Flags().BoolVar(&skipSynthesis, "no-synthesis", false, "leave outputs unmerged")
	return cmd
}

func synthesizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "synthesize",
		Short: "Merge existing room outputs into final-output.md",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := synthesis.NewEngine(cfg.WorkDir).Run()
			if err != nil {
				return err
			}
			if path == "" {
				ancli.PrintWarn(fmt.Sprintf("no outputs found in %s\n", cfg.WorkDir))
				return nil
			}
			ancli.PrintOK(fmt.Sprintf("final output: %s\n", path))
			return nil
		},
	}
}

func outputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "List persisted room outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			outputs, err := synthesis.NewEngine(cfg.WorkDir).Collect()
			if err != nil {
				return err
			}
			if len(outputs) == 0 {
				ancli.PrintWarn(fmt.Sprintf("no outputs in %s\n", cfg.WorkDir))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tEXECUTION\tBYTES\tPATH")
			for _, o := range outputs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.Provider, o.ExecutionID, len(o.Content), o.Path)
			}
			return w.Flush()
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every room output and marker file",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator()
			if err != nil {
				return err
			}
			removed, err := o.Cleanup()
			if err != nil {
				return err
			}
			ancli.PrintOK(fmt.Sprintf("removed %d files\n", removed))
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show configured providers and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := cfg.RoutingConfig.Registry()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tPROVIDER\tMODEL\tENABLED\tCREDENTIAL\tFALLBACK")
			for _, p := range cfg.RoutingConfig.Providers {
				credential := "missing"
				if gateway.IsAvailable(reg, p.Name) {
					credential = "set"
				}
				model := cfg.Aliases.Resolve(p.Model)
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s (%s)\t%s\n",
					p.Priority, p.Name, model, p.Enabled, p.CredentialEnv, credential, dash(p.Fallback))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, err := range cfg.Aliases.ValidateRoutingConfig(cfg.RoutingConfig) {
				ancli.PrintWarn(err.Error() + "\n")
			}
			return nil
		},
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show keyword rules and task type mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEYWORD\tPROVIDER\tFALLBACK\tCONFIDENCE")
			for _, r := range cfg.RoutingConfig.KeywordRules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", r.Keyword, r.Provider, dash(r.Fallback), r.Confidence)
			}
			fmt.Fprintln(w)

			var taskTypes []string
			for name := range cfg.RoutingConfig.TaskTypes {
				taskTypes = append(taskTypes, name)
			}
			sort.Strings(taskTypes)

			fmt.Fprintln(w, "TASK TYPE\tPREFERRED\tSECONDARY\t")
			for _, name := range taskTypes {
				tt := cfg.RoutingConfig.TaskTypes[name]
				fmt.Fprintf(w, "%s\t%s\t%s\t\n", name, tt.Preferred, dash(tt.Secondary))
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "DEFAULT\t%s\t-\t\n", router.DefaultProvider)

			return w.Flush()
		},
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if promptDir != "" {
		cfg.PromptDir = promptDir
	}
	return cfg, nil
}

func newOrchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]orchestrator.Option{orchestrator.WithLogger(slog.Default())}, opts...)
	return orchestrator.New(cfg, opts...)
}

// progressObserver prints room progress as it happens.
func progressObserver(w io.Writer) rooms.Observer {
	debug := misc.Truthy(os.Getenv("DEBUG"))
	return rooms.ObserverFunc(func(_ context.Context, e rooms.Event) {
		switch e.Type {
		case rooms.EventParallelStart, rooms.EventSequentialStart:
			fmt.Fprintf(w, "starting %d room(s)\n", e.Total)
		case rooms.EventStart:
			fmt.Fprintf(w, "  [%s] started %s\n", e.Provider, e.ExecutionID)
		case rooms.EventComplete:
			if e.Success {
				fmt.Fprintf(w, "  [%s] done in %dms\n", e.Provider, e.DurationMs)
			} else {
				fmt.Fprintf(w, "  [%s] failed: %s\n", e.Provider, e.Error)
			}
		case rooms.EventParallelComplete, rooms.EventSequentialComplete:
			if debug {
				fmt.Fprintf(w, "rooms finished: %d succeeded, %d failed\n", e.Succeeded, e.Failed)
			}
		}
	})
}

func printAnalysis(w io.Writer, a *router.Analysis) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Task type:\t%s\n", a.TaskType)
	fmt.Fprintf(tw, "Keywords:\t%s\n", dash(strings.Join(a.Keywords, ", ")))
	fmt.Fprintf(tw, "Parallel:\t%t\n", a.Parallelizable)
	fmt.Fprintln(tw)

	if len(a.Routes) == 0 {
		fmt.Fprintln(tw, "No routes: no enabled provider matches this task.")
		return tw.Flush()
	}
	fmt.Fprintln(tw, "PROVIDER\tCONFIDENCE\tFALLBACK\tREASON")
	for _, r := range a.Routes {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", r.Provider, r.Confidence, dash(r.Fallback), r.Reason)
	}
	return tw.Flush()
}

func printResults(w io.Writer, report *orchestrator.Report) error {
	if len(report.Results) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tDURATION\tOUTPUT")
	row := func(r *rooms.Result, label string) {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%dms\t%s\n", r.Provider, label, status, r.DurationMs, dash(r.OutputFile))
	}
	for _, r := range report.Results {
		row(r, "")
	}
	for _, r := range report.Fallbacks {
		row(r, " (fallback)")
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
