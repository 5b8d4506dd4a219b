package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-research-be/internal/bootstrap"
	"ai-research-be/internal/config"
	"ai-research-be/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveShutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose runs, sessions and digests over HTTP",
	Long: `Starts the REST API on APP_PORT:

  POST /api/research/v1/runs
  GET  /api/research/v1/sessions
  GET  /api/research/v1/sessions/:topic
  GET  /api/research/v1/digest?topic=&from=&to=&format=markdown`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 0, "how long in-flight requests may take after SIGTERM (default: one iteration of search, LLM and store timeouts)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	srv := server.New(ctx, cfg, container)
	timeout := serveShutdownTimeout
	if timeout <= 0 {
		timeout = shutdownBudget(cfg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		container.Logger.Info("SERVER", "Shutting down", map[string]interface{}{"timeout": timeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// shutdownBudget covers the iteration a run may be in when the signal lands:
// its search, the relevance filter and synthesis calls, the embedding of each
// finding, and the checkpoint writes. The loop does not start another one.
func shutdownBudget(cfg *config.Config) time.Duration {
	r := cfg.Research
	return r.SearchTimeout + 3*r.LLMTimeout + 4*r.StoreTimeout + 10*time.Second
}
