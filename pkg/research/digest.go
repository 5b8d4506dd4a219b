package research

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DigestEntry is one rendered section of the digest. Err is set when the
// underlying record could not be read; the section then notes the gap.
type DigestEntry struct {
	Id        string
	CreatedAt time.Time
	Query     string
	Summary   string
	FollowUps []string
	Err       error
}

// RenderDigest renders entries as a markdown report, oldest first.
func RenderDigest(topic string, from, to time.Time, entries []DigestEntry) string {
	sorted := make([]DigestEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	missing := 0
	for _, e := range sorted {
		if e.Err != nil {
			missing++
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Research digest: %s\n\n", topic))
	b.WriteString(fmt.Sprintf("Period: %s to %s\n", formatTime(from), formatTime(to)))
	b.WriteString(fmt.Sprintf("Entries: %d", len(sorted)-missing))
	if missing > 0 {
		b.WriteString(fmt.Sprintf(" (%d unavailable)", missing))
	}
	b.WriteString("\n")

	if len(sorted) == 0 {
		b.WriteString("\nNo new findings in this period.\n")
		return b.String()
	}

	for _, e := range sorted {
		b.WriteString("\n")
		if e.Err != nil {
			b.WriteString(fmt.Sprintf("## %s\n\n", formatTime(e.CreatedAt)))
			b.WriteString(fmt.Sprintf("> [missing entry %s: %v]\n", e.Id, e.Err))
			continue
		}

		b.WriteString(fmt.Sprintf("## %s — %s\n\n", formatTime(e.CreatedAt), e.Query))
		b.WriteString(strings.TrimSpace(e.Summary))
		b.WriteString("\n")
		if len(e.FollowUps) > 0 {
			b.WriteString("\nFollow-up questions:\n")
			for _, q := range e.FollowUps {
				b.WriteString(fmt.Sprintf("- %s\n", q))
			}
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
