package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"ai-research-be/internal/bootstrap"
	"ai-research-be/internal/dto"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/service"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusTopic string

var statusCmd = &cobra.Command{
	Use:   "status [topic]",
	Short: "Show the saved session of a topic, or list all topics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusTopic, "topic", "t", "", "topic (defaults to RESEARCH_TOPIC)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	factory, err := bootstrap.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer factory.Close()

	sessions := service.NewSessionService(factory, service.SessionOptions{
		MaxQueue:     cfg.Research.MaxQueue,
		MaxDepth:     cfg.Research.MaxDepth,
		StoreTimeout: cfg.Research.StoreTimeout,
	}, logger.NewNopLogger())

	ctx, cancel := storeContext(cmd.Context())
	defer cancel()

	topic := resolveTopic(statusTopic, args)
	if topic == "" {
		topics, err := sessions.ListTopics(ctx)
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			color.Yellow("No research sessions yet.")
			return nil
		}
		for _, t := range topics {
			fmt.Println(t)
		}
		return nil
	}

	status, err := sessions.Status(ctx, topic)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func printStatus(s *dto.SessionStatusResponse) {
	title := color.New(color.FgCyan, color.Bold)
	title.Printf("Topic: %s\n", s.Topic)
	if !s.Exists {
		color.Yellow("No saved session.")
		return
	}

	fmt.Printf("Iterations:  %d (version %d)\n", s.Iteration, s.Version)
	if s.StartedAt != nil {
		fmt.Printf("Started:     %s\n", s.StartedAt.Format(time.RFC3339))
	}
	if s.LastRunAt != nil {
		fmt.Printf("Last run:    %s\n", s.LastRunAt.Format(time.RFC3339))
	}
	fmt.Printf("Records:     %d\n", s.Records)

	outcomes := make([]string, 0, len(s.Processed))
	for outcome := range s.Processed {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Printf("  %-12s %d\n", outcome, s.Processed[outcome])
	}
	if s.Retrying > 0 {
		color.Yellow("Retrying:    %d", s.Retrying)
	}

	if s.Terminated != nil {
		fmt.Fprint(os.Stdout, "Terminated:  ")
		color.New(color.FgYellow).Printf("%s at %s\n", s.Terminated.Reason, s.Terminated.At.Format(time.RFC3339))
	}

	fmt.Printf("Pending:     %d\n", len(s.Pending))
	for _, q := range s.Pending {
		fmt.Printf("  [d%d %s] %s\n", q.Depth, q.Origin, q.Text)
	}
}
