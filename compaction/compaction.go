// Package compaction bounds conversation growth by summarizing older
// turns into a single message once a threshold is crossed, preserving
// system messages and the most recent turns in full fidelity.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/gadgetrun/agentcore/conversation"
	"github.com/gadgetrun/agentcore/model"
)

// Strategy transforms the run's history before the next LLM call. It
// receives history only (never the immutable base) and returns the
// (possibly unchanged) replacement history.
type Strategy func(ctx context.Context, history []*model.Message) ([]*model.Message, error)

// Trigger decides whether a Strategy should run on this turn, given the
// current history length in turns.
type Trigger func(history []*model.Message) bool

// TurnCountTrigger fires once history has at least triggerAt turns.
// Combined with a Strategy that compacts down to keepRecent+1 turns,
// this gives hysteresis: compaction won't re-fire until history regrows
// back up to triggerAt.
func TurnCountTrigger(triggerAt int) Trigger {
	return func(history []*model.Message) bool {
		if triggerAt <= 0 {
			return false
		}
		return len(conversation.ParseTurns(history)) >= triggerAt
	}
}

const defaultSummaryPrompt = `Summarize the conversation so far for continuation purposes. Capture:
- the user's explicit requests and goals
- key decisions and their rationale
- concrete artifacts referenced (files, ids, values) that later turns may need
- unresolved or pending work

Be thorough but concise; this summary replaces the original turns entirely.

CONVERSATION:
%s`

// SummarizeOption configures SummarizeStrategy.
type SummarizeOption func(*summarizeConfig)

type summarizeConfig struct {
	summaryPrompt string
	modelClass    model.ModelClass
}

func defaultSummarizeConfig() *summarizeConfig {
	return &summarizeConfig{summaryPrompt: defaultSummaryPrompt, modelClass: model.ModelClassSmall}
}

// WithSummaryPrompt overrides the default summarization instruction. The
// prompt must contain exactly one %s placeholder for the rendered
// conversation text.
func WithSummaryPrompt(prompt string) SummarizeOption {
	return func(c *summarizeConfig) { c.summaryPrompt = prompt }
}

// WithModelClass selects which model class to summarize with (typically
// a small/cheap class).
func WithModelClass(class model.ModelClass) SummarizeOption {
	return func(c *summarizeConfig) { c.modelClass = class }
}

// SummarizeStrategy compacts history down to one summary message
// covering every turn except the most recent keepRecent, using client to
// generate the summary text. Tool-call/result integrity within the kept
// turns is preserved since it operates on whole turns.
func SummarizeStrategy(client model.Client, keepRecent int, opts ...SummarizeOption) Strategy {
	cfg := defaultSummarizeConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(ctx context.Context, history []*model.Message) ([]*model.Message, error) {
		if client == nil || keepRecent < 0 || len(history) == 0 {
			return history, nil
		}
		turns := conversation.ParseTurns(history)
		splitIdx := len(turns) - keepRecent
		if splitIdx <= 0 {
			return history, nil
		}

		toCompress, toKeep := turns[:splitIdx], turns[splitIdx:]

		var sb strings.Builder
		for _, t := range toCompress {
			for _, m := range t.Messages {
				sb.WriteString(formatMessage(m))
				sb.WriteString("\n")
			}
		}

		req := &model.Request{
			ModelClass: cfg.modelClass,
			Messages: []*model.Message{
				model.NewTextMessage(model.RoleUser, fmt.Sprintf(cfg.summaryPrompt, sb.String())),
			},
		}
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return history, err
		}
		summaryText := strings.TrimSpace(resp.Message.Text())
		if summaryText == "" {
			return history, nil
		}

		summaryMsg := &model.Message{
			Role:  model.RoleSystem,
			Parts: []model.Part{model.TextPart{Text: "[Conversation Summary]\n" + summaryText}},
			Meta:  map[string]any{"compaction": "summary"},
		}

		out := make([]*model.Message, 0, 1+len(toKeep)*2)
		out = append(out, summaryMsg)
		for _, t := range toKeep {
			out = append(out, t.Messages...)
		}
		return out, nil
	}
}

func formatMessage(m *model.Message) string {
	var sb strings.Builder
	sb.WriteString(string(m.Role))
	sb.WriteString(": ")
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			sb.WriteString(v.Text)
		case model.ToolCallPart:
			fmt.Fprintf(&sb, "[Gadget Call: %s]", v.Name)
		case model.ToolResultPart:
			sb.WriteString("[Gadget Result]")
		case model.ThinkingPart:
			// omitted from summaries
		}
	}
	return sb.String()
}

// Maybe runs strategy if trigger fires, otherwise returns history
// unchanged.
func Maybe(ctx context.Context, history []*model.Message, trigger Trigger, strategy Strategy) ([]*model.Message, error) {
	if trigger == nil || strategy == nil || !trigger(history) {
		return history, nil
	}
	return strategy(ctx, history)
}
