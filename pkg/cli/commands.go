package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nimburion/dlqmanager/pkg/api"
	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/health"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/remediation"
	"github.com/nimburion/dlqmanager/pkg/tui"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type app struct {
	opts  Options
	flags *rootFlags
}

func (a *app) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(a.flags.cfgPath, a.opts.EnvPrefix, a.flags.secretFilePath, cmd.Flags())
}

// run loads configuration, builds the runtime and calls fn. quiet drops logs
// unless a log file is configured, for commands that own the terminal.
func (a *app) run(cmd *cobra.Command, quiet bool, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, log, err := a.load(cmd)
	if err != nil {
		return err
	}
	if quiet && cfg.Observability.LogFile == "" {
		log = logger.NewNop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log, a.opts.NewBackend)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(context.Background()); closeErr != nil {
			log.Error("failed to release resources", "error", closeErr)
		}
	}()
	return fn(ctx, rt)
}

func (a *app) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(ctx context.Context, rt *runtime) error {
				cfg, log := rt.cfg, rt.log
				if cmd.Flags().Changed("port") {
					cfg.HTTP.Port = port
				}

				catalog := remediation.NewCatalog(rt.backend)
				controller := remediation.NewController(rt.backend, remediation.NewLedger(), rt.controllerOptions(log)...)
				if _, err := catalog.Refresh(ctx); err != nil {
					log.Warn("initial queue listing failed", "error", err)
				}

				router := api.NewRouter(api.Options{
					ServiceName:       cfg.Service.Name,
					CORS:              cfg.CORS,
					MaxRequestSize:    cfg.HTTP.MaxRequestSize,
					RateLimit:         cfg.HTTP.RateLimit,
					ActionTimeout:     cfg.Remediation.ActionTimeout,
					RequestValidation: cfg.HTTP.RequestValidation,
				}, api.Dependencies{
					Catalog:    catalog,
					Controller: controller,
					Health:     rt.healthRegistry(controller.InFlight),
					Metrics:    rt.metrics,
					Logger:     log,
				})
				return api.NewServer(cfg.HTTP, router, log).Start(ctx)
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "http port override")
	return cmd
}

func (a *app) listCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter queues holding messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			return a.run(cmd, false, func(ctx context.Context, rt *runtime) error {
				queues, err := remediation.NewCatalog(rt.backend).Refresh(ctx)
				if err != nil {
					return err
				}
				return printQueues(cmd.OutOrStdout(), queues, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json)")
	return cmd
}

func (a *app) actionCommand(name, short string) *cobra.Command {
	kind, err := remediation.ParseActionKind(name)
	if err != nil {
		panic(err)
	}

	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   name + " <queue-url>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			return a.run(cmd, false, func(ctx context.Context, rt *runtime) error {
				actionCtx, cancel := rt.actionContext(ctx)
				defer cancel()

				var (
					outcome remediation.Outcome
					err     error
				)
				if force {
					controller := remediation.NewController(rt.backend, remediation.NewLedger(), rt.controllerOptions(rt.log)...)
					outcome, err = controller.Execute(actionCtx, kind, args)
				} else {
					outcome, err = executeChecked(ctx, actionCtx, rt, kind, args)
				}
				if err != nil {
					return err
				}
				if err := printResults(cmd.OutOrStdout(), outcome.Results, output); err != nil {
					return err
				}
				return outcomeError(outcome)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json)")
	cmd.Flags().BoolVar(&force, "force", false, "skip checking the queues against the current listing")
	return cmd
}

// executeChecked runs the action through a session so queues missing from a
// fresh listing are rejected before the backend is called.
func executeChecked(ctx, actionCtx context.Context, rt *runtime, kind remediation.ActionKind, queues []string) (remediation.Outcome, error) {
	session := rt.newSession(rt.log)
	if _, err := session.Refresh(ctx); err != nil {
		return remediation.Outcome{}, err
	}
	for _, q := range queues {
		q = strings.TrimSpace(q)
		if q != "" && !session.IsSelected(q) {
			session.Toggle(q)
		}
	}
	session.SetAction(kind)
	return session.Execute(actionCtx)
}

func (a *app) consoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Open the interactive operator console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, true, func(ctx context.Context, rt *runtime) error {
				return tui.Run(ctx, rt.newSession(rt.log), tui.Options{
					Title:         rt.cfg.Service.Name,
					ActionTimeout: rt.cfg.Remediation.ActionTimeout,
				})
			})
		},
	}
}

func (a *app) healthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the backend and audit journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(ctx context.Context, rt *runtime) error {
				result := rt.healthRegistry(nil).Check(ctx)
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal health result: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				if result.Status == health.StatusUnhealthy {
					return errors.New("health check failed")
				}
				return nil
			})
		},
	}
}

func validateOutput(output string) error {
	switch output {
	case OutputTable, OutputJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (must be %s or %s)", output, OutputTable, OutputJSON)
	}
}

func printQueues(w io.Writer, queues []remediation.Queue, output string) error {
	if output == OutputJSON {
		views := make([]api.QueueView, 0, len(queues))
		for _, q := range queues {
			views = append(views, api.NewQueueView(q))
		}
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tMESSAGES\tSOURCES")
	for _, q := range queues {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", q.ID, q.ApproximateMessages, strings.Join(q.Sources, ","))
	}
	return tw.Flush()
}

func printResults(w io.Writer, results []remediation.ActionResult, output string) error {
	if output == OutputJSON {
		return writeJSON(w, api.NewResultViews(results))
	}
	for _, r := range results {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outcomeError(o remediation.Outcome) error {
	if o.Err != nil {
		return fmt.Errorf("%s: %w", remediation.FailedActionMessage, o.Err)
	}
	if failed := o.Failures(); failed > 0 {
		return fmt.Errorf("%d of %d queues failed", failed, len(o.Results))
	}
	return nil
}
