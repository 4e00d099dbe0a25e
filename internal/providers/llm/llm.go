package llm

import "context"

// Provider is a text model that answers with JSON.
type Provider interface {
	// CompleteJSON asks for a single JSON response and decodes it into dst.
	CompleteJSON(ctx context.Context, prompt string, dst any) error
	Close() error
}
