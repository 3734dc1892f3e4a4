package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goalline/internal/app"
	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/server"
)

func (c *cli) logCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "log [goal-id]",
		Short: "Show the event log",
		Long:  "Print events straight from the event log, for one goal or for the whole workspace. --follow keeps printing new events until interrupted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var only domain.GoalID
			if len(args) == 1 {
				id, err := domain.ParseGoalID(args[0])
				if err != nil {
					return err
				}
				only = id
			}
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				evts, err := c.collectEvents(ctx, ws, only)
				if err != nil {
					return err
				}
				if !follow {
					if c.jsonOutput() {
						return c.printJSON(evts)
					}
					c.renderEvents(evts)
					return nil
				}
				for _, evt := range evts {
					c.printEventLine(evt)
				}
				return ws.Log.Watch(ctx, func(evt domain.Event) {
					if only == "" || evt.AggregateID == only {
						c.printEventLine(evt)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	return cmd
}

func (c *cli) collectEvents(ctx context.Context, ws *app.Workspace, only domain.GoalID) ([]domain.Event, error) {
	if only != "" {
		return ws.Engine.History(ctx, string(only))
	}
	ids, err := ws.Log.AggregateIDs(ctx)
	if err != nil {
		return nil, err
	}
	var all []domain.Event
	for _, id := range ids {
		evts, err := ws.Log.ReadStream(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, evts...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		if all[i].AggregateID != all[j].AggregateID {
			return all[i].AggregateID < all[j].AggregateID
		}
		return all[i].Version < all[j].Version
	})
	return all, nil
}

func (c *cli) renderEvents(evts []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.AppendHeader(table.Row{"Time", "Goal", "Version", "Type", "Worker", "Status"})
	for _, evt := range evts {
		tw.AppendRow(table.Row{evt.Timestamp.Format(time.RFC3339), evt.AggregateID, evt.Version, evt.Type, evt.WorkerID, evt.Payload.Status})
	}
	tw.Render()
}

func (c *cli) printEventLine(evt domain.Event) {
	if c.jsonOutput() {
		_ = c.printJSON(evt)
		return
	}
	fmt.Fprintf(c.out, "%s %s v%d %s %s -> %s\n", evt.Timestamp.Format(time.RFC3339), evt.AggregateID, evt.Version, evt.Type, evt.WorkerID, evt.Payload.Status)
}

func (c *cli) projectionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "projection", Short: "Maintain the read model"}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the read model from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				stats, err := ws.Engine.RebuildProjection(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(stats)
				}
				fmt.Fprintf(c.out, "rebuilt %d goals from %d events\n", stats.Goals, stats.Events)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace settings (goalline.yml)"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Reader{Workspace: c.workspace()}.Read()
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(s)
			}
			enc := yaml.NewEncoder(c.out)
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return err
			}
			return enc.Close()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate goalline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(c.workspace()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s is valid\n", config.Path(c.workspace()))
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default goalline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(c.workspace())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the worker id used for claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, err := c.workerID()
			if err != nil {
				return err
			}
			out := map[string]string{"worker_id": string(worker), "workspace": db.Dir(c.workspace())}
			if c.jsonOutput() {
				return c.printJSON(out)
			}
			fmt.Fprintln(c.out, worker)
			return nil
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serve the goal API. Settings come from the environment:
GOALLINE_ADDR, GOALLINE_BASE_PATH, GOALLINE_JWT_SECRET, GOALLINE_ALLOW_WORKER_HEADER, GOALLINE_SHUTDOWN_TIMEOUT.
Webhooks configured in goalline.yml receive every event published by the server;
other gl commands deliver their own events before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envCfg, err := server.ParseEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				envCfg.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				envCfg.BasePath = basePath
			}
			if envCfg.JWTSecret == "" && !envCfg.AllowLegacyWorkerHeader {
				return fmt.Errorf("GOALLINE_JWT_SECRET is required for bearer auth")
			}
			logger := c.logger
			if !c.v.GetBool("verbose") {
				if logger, err = zap.NewProduction(); err != nil {
					return err
				}
				defer logger.Sync()
			}
			settings, err := config.Reader{Workspace: c.workspace()}.Read()
			if err != nil {
				return err
			}
			ws, err := app.Open(cmd.Context(), c.workspace(), logger)
			if err != nil {
				return err
			}
			defer ws.Close()

			hooks := server.NewWebhookDispatcher(settings.Webhooks, logger.Named("webhooks"))
			hooks.Start(ws.Bus)
			defer hooks.Close()

			handler, err := server.New(server.Config{
				Engine:   ws.Engine,
				BasePath: envCfg.BasePath,
				Auth:     envCfg.Auth(),
				Logger:   logger.Named("http"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Serving goalline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
				envCfg.Addr, envCfg.BasePath, envCfg.BasePath, envCfg.BasePath)
			return server.ListenAndServe(cmd.Context(), envCfg.Addr, handler, envCfg.ShutdownTimeout, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides GOALLINE_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides GOALLINE_BASE_PATH)")
	return cmd
}
