package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-research-be/pkg/events"
	pktNats "ai-research-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var eventsDurable string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow run events published to NATS",
	Long: `Prints research.run_started, research.iteration_completed and
research.run_terminated events as they arrive. Requires NATS_URL; without it
events only reach the research log (see "research logs --module EVENTS").`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsDurable, "durable", "", "durable consumer name; replays events missed since the last call")
}

func runEvents(cmd *cobra.Command, args []string) error {
	if cfg.App.NatsURL == "" {
		return fmt.Errorf("NATS_URL is not set")
	}

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("Following %s.> (Ctrl+C to stop)", pktNats.SubjectPrefix)
	return sub.Subscribe(ctx, pktNats.SubjectPrefix+".>", eventsDurable, func(ctx context.Context, event events.Event) error {
		fmt.Printf("%s ", event.Timestamp().Format(time.RFC3339))
		color.New(color.FgGreen).Print(event.EventType())
		fmt.Printf(" %v\n", event.Payload())
		return nil
	})
}
