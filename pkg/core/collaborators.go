package core

import "context"

// TextGenerator is the remote completion endpoint used for intent analysis,
// SQL generation and repair, and answer synthesis. Implementations must honor
// context cancellation and deadlines.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SQLExecutor runs a query against the target store. Errors are returned raw;
// the engine classifies them by message text.
type SQLExecutor interface {
	Execute(ctx context.Context, sql string) (*Rows, error)
}

// SchemaProvider fetches the database schema description. Fetch is called at
// most once per process unless explicitly invalidated.
type SchemaProvider interface {
	Fetch(ctx context.Context) (string, error)
}

// Embedder turns text into a vector for semantic cache lookup. Optional: a
// nil Embedder disables the semantic tier only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AnswerSynthesizer renders final result rows into a natural-language answer.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, intent Intent, rows []Row) (string, error)
}
