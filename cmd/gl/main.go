package main

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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"goalline/internal/app"
	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/server"
)

// cli carries per-invocation state so commands can be built more than once
// in tests without sharing viper globals.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c := newCLI(os.Stdout)
	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, c.jsonOutput())
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	return newCLI(out).rootCmd()
}

func newCLI(out io.Writer) *cli {
	return &cli{v: viper.New(), out: out, logger: zap.NewNop()}
}

func (c *cli) rootCmd() *cobra.Command {
	c.v.SetEnvPrefix("GOALLINE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "gl",
		Short: "Goalline CLI",
		Long: `Goalline tracks goals through an event-sourced lifecycle.
- Goals move to-do -> doing -> in-review -> qualified -> completed, with pause and block detours.
- Every change is an event in .goalline/events; the SQLite read model is a projection of it.
- Starting a goal claims it for your worker id; the claim expires after claim_duration_minutes.
- Settings live in goalline.yml (create it with 'gl config init').`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.v.GetBool("verbose") {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				c.logger = l
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetOut(c.out)

	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("worker-id", "", "worker identifier (defaults to .goalline/worker-id)")
	flags.BoolP("verbose", "v", false, "log diagnostics to stderr")
	for _, name := range []string{"workspace", "json", "worker-id", "verbose"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(c.goalCmd())
	root.AddCommand(c.logCmd())
	root.AddCommand(c.projectionCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.whoamiCmd())
	root.AddCommand(c.serveCmd())
	return root
}

func (c *cli) workspace() string {
	if ws := c.v.GetString("workspace"); ws != "" {
		return ws
	}
	return "."
}

func (c *cli) jsonOutput() bool { return c.v.GetBool("json") }

func (c *cli) workerID() (domain.WorkerID, error) {
	return app.ResolveWorkerID(c.workspace(), c.v.GetString("worker-id"))
}

// withWorkspace opens the workspace for the duration of fn. Configured
// webhooks receive the events fn publishes; deliveries are drained before
// it returns.
func (c *cli) withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	settings, err := config.Reader{Workspace: c.workspace()}.Read()
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, c.workspace(), c.logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	hooks := server.NewWebhookDispatcher(settings.Webhooks, c.logger.Named("webhooks"))
	hooks.Start(ws.Bus)
	defer hooks.Close()
	return fn(ctx, ws)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(w io.Writer, err error, asJSON bool) {
	var de *domain.Error
	if errors.As(err, &de) {
		if asJSON {
			enc := json.NewEncoder(w)
			_ = enc.Encode(map[string]any{"error": map[string]any{"code": de.Code, "message": de.Message}})
			return
		}
		fmt.Fprintf(w, "error: %s: %s\n", de.Code, de.Message)
		return
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	fmt.Fprintln(w, "error:", err)
}
