// Package translate converts post text to the target language through an
// LLM backend.
package translate

import "context"

// Translator converts text to the target language. A failed call returns
// a non-nil error and no partial output; there is no half-translated text.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}
