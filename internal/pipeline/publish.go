package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/bus"
	"github.com/elonfeng/crosspost/internal/store"
	"github.com/elonfeng/crosspost/pkg/publish"
)

// PublishStage pushes a translated item to every enabled platform, in
// configured order, and records each outcome. Platform outcomes are
// independent; one failure never blocks the others.
type PublishStage struct {
	store       store.Store
	publishers  []publish.Publisher
	retry       RetryPolicy
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewPublishStage creates a publish stage over the enabled publishers.
func NewPublishStage(s store.Store, publishers []publish.Publisher, retry RetryPolicy, callTimeout time.Duration, logger *zap.Logger) *PublishStage {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Minute
	}
	return &PublishStage{
		store:       s,
		publishers:  publishers,
		retry:       retry,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Handle processes one item.translated event. Redelivered events are
// safe: a terminal item is skipped entirely, and a platform that already
// has a recorded external id is never published again. Returns an error
// only for store failures, so the event is redelivered rather than lost.
func (p *PublishStage) Handle(ctx context.Context, ev bus.Event) error {
	item, err := p.store.Get(ctx, ev.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("publish event for unknown item, dropping",
			zap.String("item_id", ev.ItemID))
		return nil
	}
	if err != nil {
		return err
	}

	if item.Status.Terminal() {
		p.logger.Debug("item already terminal, skipping publish",
			zap.String("item_id", item.ItemID),
			zap.String("status", string(item.Status)))
		return nil
	}

	if len(p.publishers) == 0 {
		// No platforms enabled: a no-op, not a failure.
		p.logger.Warn("no publish platforms enabled",
			zap.String("item_id", item.ItemID))
		return nil
	}

	content := ev.TranslatedText
	if content == "" && item.TranslatedText != nil {
		content = *item.TranslatedText
	}

	for _, pub := range p.publishers {
		if item.ExternalID(pub.Name()) != nil {
			p.logger.Debug("platform already published, skipping",
				zap.String("item_id", item.ItemID),
				zap.String("platform", pub.Name()))
			continue
		}

		res, callErr := p.publishOne(ctx, pub, publish.Post{
			Title:        DeriveTitle(content, pub.TitleLimit()),
			Content:      content,
			OriginalText: item.OriginalText,
			Author:       item.AuthorID,
			Media:        item.Media,
		})

		if callErr != nil {
			if errors.Is(callErr, publish.ErrLoginRequired) {
				p.logger.Warn("platform needs operator login",
					zap.String("platform", pub.Name()),
					zap.String("item_id", item.ItemID))
			} else {
				p.logger.Error("platform publish failed",
					zap.String("platform", pub.Name()),
					zap.String("item_id", item.ItemID),
					zap.Error(callErr))
			}
			if err := p.store.UpdatePublishResult(ctx, item.ItemID, pub.Name(), "", false, callErr.Error()); err != nil {
				return err
			}
			continue
		}

		if err := p.store.UpdatePublishResult(ctx, item.ItemID, pub.Name(), res.PostID, true, ""); err != nil {
			return err
		}
		p.logger.Info("published item",
			zap.String("platform", pub.Name()),
			zap.String("item_id", item.ItemID),
			zap.String("external_id", res.PostID))
	}

	return nil
}

// publishOne wraps a single platform call in the retry policy. A login
// failure is permanent: it needs an operator, not another attempt.
func (p *PublishStage) publishOne(ctx context.Context, pub publish.Publisher, post publish.Post) (publish.Result, error) {
	var res publish.Result
	err := p.retry.Do(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		out, err := pub.Publish(cctx, post)
		if err != nil {
			if errors.Is(err, publish.ErrLoginRequired) {
				return Permanent(err)
			}
			return err
		}
		res = out
		return nil
	})
	return res, err
}
