package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// maxRowsInPrompt caps how many result rows are serialized into the answer
// prompt; larger result sets are summarized by count.
const maxRowsInPrompt = 20

// Synthesizer renders result rows into a natural-language answer using a
// text generator, with a deterministic fallback when generation fails so a
// successful query never loses its answer to a flaky completion call.
type Synthesizer struct {
	generator core.TextGenerator
	logger    *slog.Logger
}

// NewSynthesizer creates an answer synthesizer over the given generator.
func NewSynthesizer(generator core.TextGenerator, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{generator: generator, logger: logger}
}

// Synthesize produces the final answer text for the question and rows.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, intent core.Intent, rows []core.Row) (string, error) {
	prompt := s.buildPrompt(question, intent, rows)

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("answer generation failed, using fallback", "error", err)
		return fallbackAnswer(intent, rows), nil
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallbackAnswer(intent, rows), nil
	}
	return answer, nil
}

func (s *Synthesizer) buildPrompt(question string, intent core.Intent, rows []core.Row) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions about a spatial tourism database.\n\n")
	sb.WriteString("Question: " + question + "\n")
	sb.WriteString(fmt.Sprintf("Intent: %s\nTotal result rows: %d\n\n", intent, len(rows)))

	shown := rows
	if len(shown) > maxRowsInPrompt {
		shown = shown[:maxRowsInPrompt]
	}
	data, err := json.Marshal(shown)
	if err != nil {
		data = []byte("[]")
	}
	sb.WriteString("Result rows (JSON):\n")
	sb.Write(data)
	sb.WriteString("\n\nAnswer the question concisely in natural language, citing concrete values from the rows. ")
	if intent == core.IntentSummary {
		sb.WriteString("Lead with the aggregate number.")
	} else {
		sb.WriteString("List the most relevant records.")
	}
	return sb.String()
}

// fallbackAnswer builds a minimal answer from the row count alone.
func fallbackAnswer(intent core.Intent, rows []core.Row) string {
	if len(rows) == 0 {
		return "No matching records were found."
	}
	if intent == core.IntentSummary {
		return fmt.Sprintf("The query returned %d aggregate result(s).", len(rows))
	}
	return fmt.Sprintf("Found %d matching record(s).", len(rows))
}

var _ core.AnswerSynthesizer = (*Synthesizer)(nil)
