package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"goalline/internal/app"
	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/projection"
)

func (c *cli) goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long:  "Create goals and move them through their lifecycle. Every command except show and list needs the goal to be unclaimed, expired, or claimed by you.",
	}
	cmd.AddCommand(c.goalAddCmd())
	cmd.AddCommand(c.goalShowCmd())
	cmd.AddCommand(c.goalListCmd())

	for _, t := range []struct {
		use, short string
		note       bool
		run        transitionFunc
	}{
		{"start", "Start a to-do goal and claim it", false, (*engine.Engine).Start},
		{"pause", "Pause a goal in progress", true, (*engine.Engine).Pause},
		{"resume", "Resume a paused goal and refresh the claim", true, (*engine.Engine).Resume},
		{"block", "Block a goal (note required)", true, (*engine.Engine).Block},
		{"unblock", "Unblock a goal", true, (*engine.Engine).Unblock},
		{"submit", "Submit a goal for review", false, (*engine.Engine).SubmitForReview},
		{"qualify", "Qualify a reviewed goal", false, (*engine.Engine).Qualify},
		{"complete", "Complete a qualified goal", false, (*engine.Engine).Complete},
		{"reset", "Reset a goal to to-do and release its claim", false, (*engine.Engine).Reset},
	} {
		cmd.AddCommand(c.transitionCmd(t.use, t.short, t.note, t.run))
	}
	return cmd
}

func (c *cli) goalAddCmd() *cobra.Command {
	var opts engine.AddOptions
	var planningFile string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.Objective) == "" {
				return fmt.Errorf("--objective required")
			}
			if planningFile != "" {
				p, err := readPlanning(planningFile)
				if err != nil {
					return err
				}
				opts.Planning = p
			}
			worker, err := c.workerID()
			if err != nil {
				return err
			}
			opts.WorkerID = worker
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Add(ctx, opts)
				if err != nil {
					return err
				}
				return c.printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "goal id (generated when empty)")
	cmd.Flags().StringVar(&opts.Objective, "objective", "", "what the goal achieves")
	cmd.Flags().StringArrayVar(&opts.SuccessCriteria, "criteria", nil, "success criterion (repeatable)")
	cmd.Flags().StringArrayVar(&opts.ScopeIn, "scope-in", nil, "in-scope item (repeatable)")
	cmd.Flags().StringArrayVar(&opts.ScopeOut, "scope-out", nil, "out-of-scope item (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Boundaries, "boundary", nil, "boundary (repeatable)")
	cmd.Flags().StringVar(&opts.NextGoalID, "next", "", "goal to chain after completion")
	cmd.Flags().StringVar(&planningFile, "planning", "", "YAML file with the planning context")
	return cmd
}

func readPlanning(path string) (*domain.PlanningContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p domain.PlanningContext
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid planning yaml: %w", err)
	}
	return &p, nil
}

type transitionFunc func(*engine.Engine, context.Context, engine.TransitionOptions) (engine.Result, error)

func (c *cli) transitionCmd(use, short string, withNote bool, run transitionFunc) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <goal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, err := c.workerID()
			if err != nil {
				return err
			}
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := run(ws.Engine, ctx, engine.TransitionOptions{GoalID: args[0], WorkerID: worker, Note: note})
				if err != nil {
					return err
				}
				return c.printResult(res)
			})
		},
	}
	if withNote {
		cmd.Flags().StringVar(&note, "note", "", "note recorded with the transition")
	}
	return cmd
}

func (c *cli) printResult(res engine.Result) error {
	if c.jsonOutput() {
		return c.printJSON(res)
	}
	fmt.Fprintf(c.out, "%s -> %s (v%d)\n", res.GoalID, res.Status, res.Version)
	if res.Claim != nil {
		fmt.Fprintf(c.out, "claimed by %s until %s\n", res.Claim.ClaimedBy, res.Claim.ClaimExpiresAt.Format(time.RFC3339))
	}
	if res.TurnLimit > 0 {
		fmt.Fprintf(c.out, "review turn %d of %d\n", res.ReviewTurn, res.TurnLimit)
	}
	if res.NextGoalID != "" {
		fmt.Fprintf(c.out, "next goal: %s\n", res.NextGoalID)
	}
	if res.ProjectionLagging {
		fmt.Fprintln(c.out, "warning: read model is behind the event log; run 'gl projection rebuild'")
	}
	return nil
}

func (c *cli) goalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				v, err := ws.Engine.Show(ctx, args[0])
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(v)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendRows([]table.Row{
					{"ID", v.ID},
					{"Objective", v.Objective},
					{"Status", v.Status},
					{"Version", v.Version},
					{"Success criteria", strings.Join(v.SuccessCriteria, "\n")},
					{"Scope in", strings.Join(v.ScopeIn, "\n")},
					{"Scope out", strings.Join(v.ScopeOut, "\n")},
					{"Boundaries", strings.Join(v.Boundaries, "\n")},
					{"Review turns", v.ReviewTurns},
				})
				if v.Note != "" {
					tw.AppendRow(table.Row{"Note", v.Note})
				}
				if v.NextGoalID != "" {
					tw.AppendRow(table.Row{"Next goal", v.NextGoalID})
				}
				if v.ClaimedBy != "" && v.ClaimExpiresAt != nil {
					tw.AppendRow(table.Row{"Claimed by", fmt.Sprintf("%s (until %s)", v.ClaimedBy, v.ClaimExpiresAt.Format(time.RFC3339))})
				}
				tw.AppendRow(table.Row{"Updated", v.UpdatedAt.Format(time.RFC3339)})
				tw.Render()
				return nil
			})
		},
	}
}

func (c *cli) goalListCmd() *cobra.Command {
	var status, claimedBy string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.List(ctx, projection.Filter{
					Status:    domain.Status(status),
					ClaimedBy: domain.WorkerID(claimedBy),
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"ID", "Objective", "Status", "Version", "Claimed by", "Updated"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.Objective, v.Status, v.Version, v.ClaimedBy, v.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&claimedBy, "claimed-by", "", "claim owner filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 for all)")
	return cmd
}
