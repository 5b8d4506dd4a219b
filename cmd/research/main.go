package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ai-research-be/internal/config"
	"ai-research-be/internal/tracer"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string

	cfg            *config.Config
	shutdownTracer func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Unattended overnight research loop",
	Long: `research explores one topic for a bounded amount of time: it searches the
web, summarizes what it finds with a language model, drops findings it has
already seen and derives follow-up questions to keep going.

Progress is checkpointed after every iteration, so a run that is stopped
(or crashes) resumes where it left off the next time it is started for the
same topic. Each run ends with a markdown digest of what was new.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if configFile != "" {
			if err := cfg.ApplyFile(configFile); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		shutdownTracer = tracer.InitTracer(cfg.App.OtelEnabled, cfg.App.OtelEndpoint)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracer == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracer(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML file overlaying the research settings")

	rootCmd.AddCommand(
		runCmd,
		digestCmd,
		statusCmd,
		serveCmd,
		migrateCmd,
		logsCmd,
		eventsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// writeOutput writes content to path, or to stdout when path is empty or "-".
func writeOutput(path, content string) error {
	if path == "" || path == "-" {
		_, err := fmt.Fprint(os.Stdout, content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
