// Package llm defines the optional reasoning collaborator a RetrievalAgent
// receives at construction. A nil Provider means structured-only
// behavior: every stage that would otherwise consult an LLM degrades to
// its deterministic fallback with no import probing or runtime discovery.
package llm

import "context"

// Provider is implemented by whatever reasoning backend a deployment
// wires in. ExtractFilters turns free text into the same filter-map shape
// the rule-based extractor produces, for prompts the deterministic parser
// could not handle. Reason answers a natural-language question given a
// page of already-retrieved rows, used by the retrieval agent's rate
// limited fallback path.
type Provider interface {
	ExtractFilters(ctx context.Context, prompt string) (map[string]any, error)
	Reason(ctx context.Context, prompt string, rows []map[string]any) (string, error)
}
