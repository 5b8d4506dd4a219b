package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ai-research-be/internal/bootstrap"
	"ai-research-be/internal/dto"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	runTopic         string
	runMaxDuration   time.Duration
	runMaxIterations int
	runSeeds         []string
	runDigestOut     string
)

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Research a topic until a bound is hit or the queue drains",
	Long: `Starts (or resumes) the research session for a topic. The run stops when
--max-duration or --max-iterations is reached, when there is nothing left to
ask, or on SIGINT/SIGTERM. An interrupted run finishes the iteration in
flight, saves its progress and still prints the digest.

Example:
  research run "on-device AI privacy" --max-duration 6h --digest-out digest.md`,
	RunE: runResearch,
}

func init() {
	runCmd.Flags().StringVarP(&runTopic, "topic", "t", "", "topic to research (defaults to RESEARCH_TOPIC)")
	runCmd.Flags().DurationVarP(&runMaxDuration, "max-duration", "d", 0, "wall-clock bound (defaults to RESEARCH_MAX_DURATION)")
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "n", 0, "iteration bound (defaults to RESEARCH_MAX_ITERATIONS)")
	runCmd.Flags().StringSliceVar(&runSeeds, "seed", nil, "extra seed query; repeatable")
	runCmd.Flags().StringVarP(&runDigestOut, "digest-out", "o", "", "write the digest to this file instead of stdout")
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := runTopic
	if topic == "" && len(args) > 0 {
		topic = strings.Join(args, " ")
	}
	if topic == "" {
		topic = cfg.Research.Topic
	}
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("no topic: pass one as an argument, with --topic or RESEARCH_TOPIC")
	}

	req := &dto.RunRequest{
		Topic:         topic,
		MaxDuration:   cfg.Research.MaxDuration,
		MaxIterations: cfg.Research.MaxIterations,
		Seeds:         runSeeds,
	}
	if cmd.Flags().Changed("max-duration") {
		req.MaxDuration = runMaxDuration
	}
	if cmd.Flags().Changed("max-iterations") {
		req.MaxIterations = runMaxIterations
	}

	if runDigestOut == "" || runDigestOut == "-" {
		// log lines would end up inside the digest
		cfg.App.LogConsole = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	color.New(color.FgCyan).Fprintf(os.Stderr, "Researching %q (max duration %s, max iterations %d)\n", topic, req.MaxDuration, req.MaxIterations)

	result, err := container.ResearchService.Run(ctx, req)
	if err != nil {
		return err
	}

	// the digest is written even when the run was interrupted
	digest, err := container.DigestService.AssembleRun(context.WithoutCancel(ctx), result)
	return finishRun(os.Stderr, result, runDigestOut, digest, err)
}

// finishRun writes the digest and reports the run. The report is printed
// even when the digest could not be assembled or written, since the run's
// progress is already saved.
func finishRun(w io.Writer, result *dto.DigestInput, digestOut, digest string, digestErr error) error {
	if digestErr != nil {
		printRunResult(w, result, "")
		color.New(color.FgRed).Fprintf(w, "Digest could not be assembled: %v\n", digestErr)
		fmt.Fprintf(w, "Run `research digest %q --from %s --to %s` once the store is back.\n",
			result.Topic, result.From.Format(time.RFC3339), result.To.Format(time.RFC3339))
		return fmt.Errorf("assemble digest: %w", digestErr)
	}
	if err := writeOutput(digestOut, digest); err != nil {
		printRunResult(w, result, "")
		return err
	}
	printRunResult(w, result, digestOut)
	return nil
}

func printRunResult(w io.Writer, result *dto.DigestInput, digestOut string) {
	reason := color.New(color.FgGreen)
	switch result.Reason {
	case "cancelled", "max_duration", "max_iterations":
		reason = color.New(color.FgYellow)
	case "store_unavailable", "locked":
		reason = color.New(color.FgRed)
	}

	fmt.Fprint(w, "Run finished: ")
	reason.Fprint(w, result.Reason)
	fmt.Fprintf(w, " after %d iterations, %d new records, %d queries pending\n",
		result.Iterations, len(result.RecordIds), result.Pending)
	if digestOut != "" && digestOut != "-" {
		color.New(color.FgGreen).Fprintf(w, "Digest written to %s\n", digestOut)
	}
}
