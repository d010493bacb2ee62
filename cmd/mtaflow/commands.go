package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/mtaflow/internal/driver"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/steps"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/internal/streaming"
	"github.com/rendis/mtaflow/internal/validation"
	"github.com/rendis/mtaflow/pkg/schema"
)

type rootFlags struct {
	settings string
	dbPath   string
	logLevel string
	deps     runtimeDeps
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(runtimeDeps{})
}

func newRootCmdWith(deps runtimeDeps) *cobra.Command {
	flags := &rootFlags{deps: deps}
	cmd := &cobra.Command{
		Use:           "mtaflow",
		Short:         "mtaflow deploys MTA modules step by step and resumes where it stopped",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.settings, "settings", settingsPath(), "path to settings.json")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "process database (overrides settings)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newResumeCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newEventsCmd(flags))
	cmd.AddCommand(newErrorsCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// config loads the layered configuration and applies the global flags.
func (f *rootFlags) config() (Config, error) {
	cfg, err := loadConfig(f.settings)
	if err != nil {
		return cfg, err
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, validateConfig(cfg)
}

func (f *rootFlags) app(cmd *cobra.Command) (*app, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), f.deps)
}

// withStore opens only the process database, for read-only commands.
func (f *rootFlags) withStore(cmd *cobra.Command, fn func(s *store.LibSQLStore) error) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	s, err := openStore(cmd.Context(), cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

type runOptions struct {
	processID string
	follow    bool
	detach    bool
	params    map[string]string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <descriptor>",
		Short: "Start a deployment from a YAML or JSON descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runDeploy(cmd.Context(), a, args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.processID, "process-id", "", "process id (default: random UUID)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "stream progress while the deployment runs")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "create the process and leave it to `mtaflow serve`")
	cmd.Flags().StringToStringVarP(&opts.params, "param", "p", nil, "override a descriptor parameter (key=value)")
	return cmd
}

func runDeploy(ctx context.Context, a *app, path string, opts runOptions, out io.Writer) error {
	desc, err := validation.LoadDescriptor(path)
	if err != nil {
		return err
	}
	if len(opts.params) > 0 {
		if desc.Parameters == nil {
			desc.Parameters = make(map[string]any, len(opts.params))
		}
		for k, v := range opts.params {
			desc.Parameters[k] = v
		}
	}
	if err := a.validator.ValidateDescriptor(desc); err != nil {
		return err
	}

	id := opts.processID
	if id == "" {
		id = uuid.New().String()
	}

	out = &syncWriter{w: out}
	var follow sync.WaitGroup
	if opts.follow && !opts.detach {
		events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{ProcessID: id})
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			follow.Wait()
		}()
		follow.Add(1)
		go func() {
			defer follow.Done()
			for ev := range events {
				printStreamEvent(out, ev)
			}
		}()
	}

	if _, err := a.driver.Start(ctx, steps.DeployFlowName, id, desc, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "process %s started\n", id)
	if opts.detach {
		return nil
	}
	return drive(ctx, a, id, out)
}

// drive ticks id until it finishes and reports a failure as an error.
func drive(ctx context.Context, a *app, id string, out io.Writer) error {
	status, err := a.driver.Run(ctx, id, a.schedule)
	if err != nil {
		return err
	}
	if status == schema.ProcessStatusFailed {
		p, err := a.store.GetProcess(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("process %s failed at %s: %s", id, p.CurrentStep, p.Error)
	}
	fmt.Fprintf(out, "process %s %s\n", id, status)
	return nil
}

func printStreamEvent(out io.Writer, ev streaming.StreamEvent) {
	if msg, ok := ev.Payload.(process.ProgressMessage); ok {
		fmt.Fprintf(out, "[%s] %s %s\n", msg.Type, msg.Step, msg.Text)
		return
	}
	if ev.Step != "" {
		fmt.Fprintf(out, "  %s %s\n", ev.EventType, ev.Step)
		return
	}
	fmt.Fprintf(out, "  %s\n", ev.EventType)
}

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Tick every running process until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := driver.NewScheduler(a.driver, a.schedule, a.cfg.PoolSize)
			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return sched.Stop()
		},
	}
}

func newResumeCmd(root *rootFlags) *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "resume <process-id>",
		Short: "Resume a failed process from the step that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.driver.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "process %s resumed\n", args[0])
			if detach {
				return nil
			}
			return drive(cmd.Context(), a, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "only mark the process running")
	return cmd
}

type statusView struct {
	*store.Process
	Diagnostics map[string]string             `json:"diagnostics,omitempty"`
	Steps       map[string]*store.StepSummary `json:"steps,omitempty"`
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <process-id>",
		Short: "Show a process, its diagnostics and per-step summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withStore(cmd, func(s *store.LibSQLStore) error {
				ctx := cmd.Context()
				p, err := s.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				diags, err := s.GetDiagnostics(ctx, p.ID)
				if err != nil {
					return err
				}
				summary, err := store.NewEventLog(s).ReplayEvents(ctx, p.ID)
				if err != nil {
					return err
				}
				view := statusView{Process: p, Diagnostics: diags, Steps: summary}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func newEventsCmd(root *rootFlags) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "events <process-id>",
		Short: "Print the phase event log of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withStore(cmd, func(s *store.LibSQLStore) error {
				events, err := s.GetEvents(cmd.Context(), args[0], since)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events after this sequence number")
	return cmd
}

func newErrorsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "errors [process-id]",
		Short: "Show the recorded error of a process, or of every failed process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withStore(cmd, func(s *store.LibSQLStore) error {
				ctx := cmd.Context()
				var procs []*store.Process
				if len(args) == 1 {
					p, err := s.GetProcess(ctx, args[0])
					if err != nil {
						return err
					}
					procs = append(procs, p)
				} else {
					failed := schema.ProcessStatusFailed
					var err error
					if procs, err = s.ListProcesses(ctx, store.ProcessFilter{Status: &failed}); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				for _, p := range procs {
					diags, err := s.GetDiagnostics(ctx, p.ID)
					if err != nil {
						return err
					}
					errType, ok := diags[engine.DiagnosticErrorType]
					if !ok {
						continue
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.ID, p.CurrentStep, errType, diags[engine.DiagnosticErrorMessage])
				}
				return nil
			})
		},
	}
}

func newListCmd(root *rootFlags) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ProcessFilter{Limit: limit}
			if status != "" {
				st := schema.ProcessStatus(status)
				filter.Status = &st
			}
			return root.withStore(cmd, func(s *store.LibSQLStore) error {
				procs, err := s.ListProcesses(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, p := range procs {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.ID, p.Status, p.DescriptorID, p.CurrentStep)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, running, completed, failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum processes to list")
	return cmd
}

// syncWriter serializes writes from the follow goroutine and the command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
