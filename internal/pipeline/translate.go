package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/bus"
	"github.com/elonfeng/crosspost/internal/store"
	"github.com/elonfeng/crosspost/pkg/translate"
)

// TranslateStage converts an item's original text to the target language
// and records the result. On failure the item is left untouched; the
// caller decides whether to retry delivery or mark the item failed.
type TranslateStage struct {
	store       store.Store
	translator  translate.Translator
	retry       RetryPolicy
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewTranslateStage creates a translate stage.
func NewTranslateStage(s store.Store, tr translate.Translator, retry RetryPolicy, callTimeout time.Duration, logger *zap.Logger) *TranslateStage {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &TranslateStage{
		store:       s,
		translator:  tr,
		retry:       retry,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Handle processes one item.fetched event and returns the translated
// text. Whitespace-only text short-circuits to an empty translation
// without an external call. Translator failures are retried per the
// stage policy; after exhaustion no status is mutated and the error
// propagates.
func (t *TranslateStage) Handle(ctx context.Context, ev bus.Event) (string, error) {
	var translated string

	if strings.TrimSpace(ev.Text) != "" {
		err := t.retry.Do(ctx, func() error {
			cctx, cancel := context.WithTimeout(ctx, t.callTimeout)
			defer cancel()

			out, err := t.translator.Translate(cctx, ev.Text)
			if err != nil {
				return err
			}
			translated = out
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("translate item %s: %w", ev.ItemID, err)
		}
	}

	if err := t.store.UpdateTranslation(ctx, ev.ItemID, translated); err != nil {
		return "", err
	}

	t.logger.Info("translated item",
		zap.String("item_id", ev.ItemID),
		zap.Int("len", len(translated)))
	return translated, nil
}
