package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/memory"
)

// engine bundles the wired-up components a command needs. Commands that
// only read skip the queue; openEngine wires everything.
type engine struct {
	store   *memory.Store
	gateway memory.EmbeddingGateway
	dedup   *memory.Deduplicator
	queue   *memory.EnrichmentQueue
	linker  *memory.EntityLinker
	ambient *memory.AmbientEngine
	bus     *memory.NotificationBus
	logger  *zap.Logger
}

func openEngine() (*engine, error) {
	logger := newLogger()

	store, err := memory.NewStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	gateway := memory.NewGateway()
	bus := memory.NewNotificationBus()
	linker := memory.NewEntityLinker(store, memory.NewExtractor(), logger)
	queue := memory.NewEnrichmentQueue(store, memory.NewEnricher(), linker, bus, logger)
	dedup := memory.NewDeduplicator(store, gateway, queue, linker, bus, logger)

	fastEmbed, ok := gateway.(memory.FastEmbedder)
	if !ok {
		fastEmbed = memory.NewLocalGateway()
	}
	ambient := memory.NewAmbientEngine(store, fastEmbed, nil, logger)

	return &engine{
		store:   store,
		gateway: gateway,
		dedup:   dedup,
		queue:   queue,
		linker:  linker,
		ambient: ambient,
		bus:     bus,
		logger:  logger,
	}, nil
}

// close drains background work before shutting the store so a CLI
// invocation never loses queued enrichment.
func (e *engine) close() {
	e.queue.Wait()
	e.queue.Close()
	e.ambient.Close()
	e.store.Close()
}
