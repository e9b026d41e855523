package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/bus"
	"github.com/elonfeng/crosspost/internal/store"
)

// Orchestrator sequences the three stages over the event bus: a sync
// trigger runs the fetch stage and emits item.fetched; item.fetched
// drives the translate stage and emits item.translated; item.translated
// drives the publish stage. Delivery is at-least-once and every handler
// is idempotent, so a crash between an external call and its
// acknowledgement re-runs the step instead of losing the item.
type Orchestrator struct {
	store     store.Store
	bus       *bus.Bus
	fetch     *FetchStage
	translate *TranslateStage
	publish   *PublishStage
	logger    *zap.Logger
}

// NewOrchestrator wires the stages to the bus.
func NewOrchestrator(s store.Store, b *bus.Bus, f *FetchStage, t *TranslateStage, p *PublishStage, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     s,
		bus:       b,
		fetch:     f,
		translate: t,
		publish:   p,
		logger:    logger,
	}
}

// SyncOnce runs one fetch cycle and emits an item.fetched event per
// newly inserted item. Returns the number of items synced.
func (o *Orchestrator) SyncOnce(ctx context.Context) (int, error) {
	items, err := o.fetch.Run(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range items {
		if err := o.emitFetched(ctx, &items[i]); err != nil {
			// The item is stored at pending; the recovery sweep on the
			// next daemon start re-emits it.
			o.logger.Error("emit item.fetched failed",
				zap.String("item_id", items[i].ItemID), zap.Error(err))
			continue
		}
		synced++
	}

	o.logger.Info("sync cycle complete", zap.Int("synced", synced))
	return synced, nil
}

// Run consumes both streams until ctx is cancelled. Independent items
// process concurrently within a delivery batch; stage order for one item
// is enforced by event causality, never by locking.
func (o *Orchestrator) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- o.bus.Consume(ctx, bus.StreamItemFetched, bus.GroupPipeline, "translate-worker", o.handleFetched)
	}()
	go func() {
		errCh <- o.bus.Consume(ctx, bus.StreamItemTranslated, bus.GroupPipeline, "publish-worker", o.handleTranslated)
	}()

	<-ctx.Done()
	<-errCh
	<-errCh
	return ctx.Err()
}

// Recover re-emits events for items stranded mid-pipeline by an earlier
// crash: pending items re-enter translation, translated and partially
// published items re-enter publishing. Handlers are idempotent, so
// re-emitting an item that is also still pending on the stream is
// harmless.
func (o *Orchestrator) Recover(ctx context.Context) error {
	pending, err := o.store.List(ctx, store.ListOpts{Status: store.StatusPending})
	if err != nil {
		return err
	}
	for i := range pending {
		if err := o.emitFetched(ctx, &pending[i]); err != nil {
			return err
		}
	}

	for _, st := range []store.Status{store.StatusTranslated, store.StatusPublishedPartial} {
		items, err := o.store.List(ctx, store.ListOpts{Status: st})
		if err != nil {
			return err
		}
		for i := range items {
			if err := o.emitTranslated(ctx, &items[i]); err != nil {
				return err
			}
		}
	}

	if n := len(pending); n > 0 {
		o.logger.Info("recovered stranded items", zap.Int("pending", n))
	}
	return nil
}

func (o *Orchestrator) handleFetched(ctx context.Context, ev bus.Event) error {
	translated, err := o.translate.Handle(ctx, ev)
	if err != nil {
		// Retries are exhausted inside the stage: the step failed
		// permanently and the item carries the reason. Ack the event so
		// it never loops.
		if markErr := o.store.MarkFailed(ctx, ev.ItemID, err.Error()); markErr != nil {
			return markErr
		}
		o.logger.Error("translate step failed permanently",
			zap.String("item_id", ev.ItemID), zap.Error(err))
		return nil
	}

	return o.bus.Publish(ctx, bus.StreamItemTranslated, bus.Event{
		Name:           bus.EventItemTranslated,
		ItemID:         ev.ItemID,
		AuthorID:       ev.AuthorID,
		Text:           ev.Text,
		TranslatedText: translated,
		Media:          ev.Media,
	})
}

func (o *Orchestrator) handleTranslated(ctx context.Context, ev bus.Event) error {
	return o.publish.Handle(ctx, ev)
}

func (o *Orchestrator) emitFetched(ctx context.Context, item *store.Item) error {
	return o.bus.Publish(ctx, bus.StreamItemFetched, bus.Event{
		Name:     bus.EventItemFetched,
		ItemID:   item.ItemID,
		AuthorID: item.AuthorID,
		Text:     item.OriginalText,
		Media:    item.Media,
	})
}

func (o *Orchestrator) emitTranslated(ctx context.Context, item *store.Item) error {
	translated := ""
	if item.TranslatedText != nil {
		translated = *item.TranslatedText
	}
	return o.bus.Publish(ctx, bus.StreamItemTranslated, bus.Event{
		Name:           bus.EventItemTranslated,
		ItemID:         item.ItemID,
		AuthorID:       item.AuthorID,
		Text:           item.OriginalText,
		TranslatedText: translated,
		Media:          item.Media,
	})
}
