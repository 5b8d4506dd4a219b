package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-research-be/internal/bootstrap"
	"ai-research-be/internal/dto"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/service"

	"github.com/spf13/cobra"
)

var (
	digestTopic string
	digestSince time.Duration
	digestFrom  string
	digestTo    string
	digestOut   string
)

var digestCmd = &cobra.Command{
	Use:   "digest [topic]",
	Short: "Render the markdown digest of stored findings",
	Long: `Renders the findings stored for a topic, oldest first. Without a range
every finding is included.

Examples:
  research digest "on-device AI privacy" --since 24h
  research digest -t wind --from 2026-03-01T22:00:00Z --to 2026-03-02T06:00:00Z -o wind.md`,
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().StringVarP(&digestTopic, "topic", "t", "", "topic (defaults to RESEARCH_TOPIC)")
	digestCmd.Flags().DurationVar(&digestSince, "since", 0, "only findings newer than this")
	digestCmd.Flags().StringVar(&digestFrom, "from", "", "RFC 3339 start of the range (inclusive)")
	digestCmd.Flags().StringVar(&digestTo, "to", "", "RFC 3339 end of the range (exclusive)")
	digestCmd.Flags().StringVarP(&digestOut, "out", "o", "", "write to this file instead of stdout")
}

func runDigest(cmd *cobra.Command, args []string) error {
	topic := resolveTopic(digestTopic, args)
	if topic == "" {
		return fmt.Errorf("no topic: pass one as an argument, with --topic or RESEARCH_TOPIC")
	}

	rng, err := digestRange(time.Now().UTC())
	if err != nil {
		return err
	}

	factory, err := bootstrap.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer factory.Close()

	digest := service.NewDigestService(factory, cfg.Research.StoreTimeout, logger.NewNopLogger())
	out, err := digest.Assemble(cmd.Context(), topic, rng)
	if err != nil {
		return err
	}
	return writeOutput(digestOut, out)
}

func digestRange(now time.Time) (dto.TimeRange, error) {
	var rng dto.TimeRange
	if digestSince > 0 {
		rng.From = now.Add(-digestSince)
	}
	if digestFrom != "" {
		from, err := time.Parse(time.RFC3339, digestFrom)
		if err != nil {
			return rng, fmt.Errorf("invalid --from: %w", err)
		}
		rng.From = from
	}
	if digestTo != "" {
		to, err := time.Parse(time.RFC3339, digestTo)
		if err != nil {
			return rng, fmt.Errorf("invalid --to: %w", err)
		}
		rng.To = to
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return rng, fmt.Errorf("empty range: --from must be before --to")
	}
	return rng, nil
}

func resolveTopic(flag string, args []string) string {
	topic := flag
	if topic == "" && len(args) > 0 {
		topic = strings.Join(args, " ")
	}
	if topic == "" {
		topic = cfg.Research.Topic
	}
	return strings.TrimSpace(topic)
}

// storeContext bounds a one-shot store call made by a CLI command.
func storeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, cfg.Research.StoreTimeout)
}
