package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ai-research-be/pkg/utils"
)

// TruncateOrder decides which snippets are dropped first when the snippet
// block would exceed the context budget.
type TruncateOrder string

const (
	TruncateOldestFirst     TruncateOrder = "oldest_first"
	TruncateLowestRankFirst TruncateOrder = "lowest_rank_first"
)

// ErrMalformedFindings is returned when the model reply has no usable summary.
var ErrMalformedFindings = errors.New("model reply has no usable summary")

// SummarySystemPrompt is sent as the system message of every summarize call.
const SummarySystemPrompt = "You are a meticulous research assistant working unattended overnight. " +
	"Summarize the provided text concisely. Focus on the key findings, data, and conclusions. " +
	"Extract the most critical information that would be useful for a research report."

// Findings is the structured reply requested from the inference backend.
type Findings struct {
	Summary   string   `json:"summary"`
	FollowUps []string `json:"follow_ups"`
	// Structured is false when the reply was not JSON and was used verbatim.
	Structured bool `json:"-"`
}

// FindingsSchema is the JSON Schema of Findings, sent to backends that can
// constrain their output to it.
var FindingsSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"summary": map[string]interface{}{"type": "string"},
		"follow_ups": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required":             []string{"summary", "follow_ups"},
	"additionalProperties": false,
}

// PromptComposer renders the summarize-and-plan prompt.
type PromptComposer struct {
	budgetTokens int
	order        TruncateOrder
	maxFollowUps int
}

func NewPromptComposer(budgetTokens int, order TruncateOrder, maxFollowUps int) *PromptComposer {
	if order == "" {
		order = TruncateOldestFirst
	}
	return &PromptComposer{
		budgetTokens: budgetTokens,
		order:        order,
		maxFollowUps: maxFollowUps,
	}
}

// Compose fits the snippets into the budget and returns the prompt along with
// the snippets that made it in.
func (c *PromptComposer) Compose(topic string, query Query, snippets []Snippet) (string, []Snippet) {
	kept := FitBudget(snippets, c.budgetTokens, c.order)

	var prompt strings.Builder
	c.writeResearchGoal(&prompt, topic, query)
	c.writeSnippets(&prompt, kept)
	c.writeInstructions(&prompt)
	c.writeOutputStructure(&prompt)

	return prompt.String(), kept
}

func (c *PromptComposer) writeResearchGoal(prompt *strings.Builder, topic string, query Query) {
	prompt.WriteString("<research_goal>\n")
	prompt.WriteString(fmt.Sprintf("Topic: %s\n", topic))
	prompt.WriteString(fmt.Sprintf("Current question: %s\n", query.Text))
	prompt.WriteString("</research_goal>\n\n")
}

func (c *PromptComposer) writeSnippets(prompt *strings.Builder, snippets []Snippet) {
	prompt.WriteString("<sources>\n")
	for i, snippet := range snippets {
		prompt.WriteString(fmt.Sprintf("<source index=\"%d\"", i+1))
		if snippet.SourceURL != "" {
			prompt.WriteString(fmt.Sprintf(" url=\"%s\"", snippet.SourceURL))
		}
		prompt.WriteString(">\n")
		if snippet.Title != "" {
			prompt.WriteString(snippet.Title)
			prompt.WriteString("\n")
		}
		prompt.WriteString(snippet.Text)
		prompt.WriteString("\n</source>\n")
	}
	prompt.WriteString("</sources>\n\n")
}

func (c *PromptComposer) writeInstructions(prompt *strings.Builder) {
	prompt.WriteString("<instructions>\n")
	prompt.WriteString("1. Write a dense summary of what the sources say about the current question, in the context of the topic.\n")
	prompt.WriteString("2. Only use facts present in the sources. Do not speculate.\n")
	if c.maxFollowUps > 0 {
		prompt.WriteString(fmt.Sprintf("3. Propose up to %d follow-up questions that would deepen research on the topic. ", c.maxFollowUps))
		prompt.WriteString("Each must be a standalone web search query. Propose none if the topic is covered.\n")
	} else {
		prompt.WriteString("3. Do not propose follow-up questions.\n")
	}
	prompt.WriteString("</instructions>\n\n")
}

func (c *PromptComposer) writeOutputStructure(prompt *strings.Builder) {
	prompt.WriteString("<output_format>\n")
	prompt.WriteString("Respond with a single JSON object and nothing else:\n")
	prompt.WriteString("{\"summary\": \"...\", \"follow_ups\": [\"...\"]}\n")
	prompt.WriteString("</output_format>\n")
}

// FitBudget drops snippets in the given order until their combined estimated
// token count fits budgetTokens. A lone snippet that still overflows is cut.
// The survivors keep their original relative order. A non-positive budget
// disables the limit.
func FitBudget(snippets []Snippet, budgetTokens int, order TruncateOrder) []Snippet {
	if budgetTokens <= 0 || len(snippets) == 0 {
		return snippets
	}

	total := 0
	for _, s := range snippets {
		total += utils.EstimateTokens(s.Text)
	}

	// dropOrder lists indices in the order they are sacrificed
	dropOrder := make([]int, len(snippets))
	for i := range dropOrder {
		dropOrder[i] = i
	}
	switch order {
	case TruncateLowestRankFirst:
		sort.SliceStable(dropOrder, func(a, b int) bool {
			return snippets[dropOrder[a]].Rank > snippets[dropOrder[b]].Rank
		})
	default:
		sort.SliceStable(dropOrder, func(a, b int) bool {
			return snippets[dropOrder[a]].RetrievedAt.Before(snippets[dropOrder[b]].RetrievedAt)
		})
	}

	dropped := make(map[int]bool)
	remaining := len(snippets)
	for _, idx := range dropOrder {
		if total <= budgetTokens || remaining == 1 {
			break
		}
		dropped[idx] = true
		total -= utils.EstimateTokens(snippets[idx].Text)
		remaining--
	}

	kept := make([]Snippet, 0, remaining)
	for i, s := range snippets {
		if dropped[i] {
			continue
		}
		if remaining == 1 && total > budgetTokens {
			s.Text = utils.TruncateToTokens(s.Text, budgetTokens)
		}
		kept = append(kept, s)
	}
	return kept
}

// ParseFindings extracts the structured reply. A reply that is not JSON but
// still carries text is accepted as a bare summary without follow-ups.
func ParseFindings(response string) (Findings, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return Findings{}, ErrMalformedFindings
	}

	var findings Findings
	if err := json.Unmarshal([]byte(extractJSON(trimmed)), &findings); err == nil {
		findings.Summary = strings.TrimSpace(findings.Summary)
		if findings.Summary == "" {
			return Findings{}, ErrMalformedFindings
		}
		findings.FollowUps = cleanFollowUps(findings.FollowUps)
		findings.Structured = true
		return findings, nil
	}

	return Findings{Summary: trimmed}, nil
}

// extractJSON isolates JSON content from response
func extractJSON(response string) string {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return response
	}

	return response[startIdx : endIdx+1]
}

func cleanFollowUps(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		key := Normalize(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
