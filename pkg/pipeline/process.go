package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/metrics"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/edgeflare/txaction/pkg/pipeline/transform"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Reasons a transaction produced no result.
const (
	ReasonNoMatch        = "no_match"
	ReasonAmbiguous      = "ambiguous"
	ReasonValidation     = "validation"
	ReasonTransform      = "transform"
	ReasonTransformation = "transformation"
)

const sinkBufferSize = 100

// Reason classifies a dispatch error for metrics and dead letters.
func Reason(err error) string {
	var ambiguous *action.AmbiguousMatchError
	var invalid *action.ValidationError
	switch {
	case errors.Is(err, action.ErrNoMatch):
		return ReasonNoMatch
	case errors.As(err, &ambiguous):
		return ReasonAmbiguous
	case errors.As(err, &invalid):
		return ReasonValidation
	}
	return ReasonTransform
}

// Processor classifies the transactions of one pipeline and hands the
// results to its sinks.
type Processor struct {
	pipeline   Pipeline
	registry   *action.Registry
	sources    map[string]transform.Func
	transform  transform.Func
	sinks      map[string]chan action.Result
	deadLetter DeadLetterPublisher
	logger     *zap.Logger
}

// NewProcessor prepares the transformation chains, sink channels and dead
// letter peer of a pipeline.
func (m *Manager) NewProcessor(pl Pipeline, registry *action.Registry) (*Processor, error) {
	transforms := transform.NewManager()

	p := &Processor{
		pipeline: pl,
		registry: registry,
		sources:  make(map[string]transform.Func, len(pl.Sources)),
		sinks:    make(map[string]chan action.Result, len(pl.Sinks)),
		logger:   m.logger.With(zap.String("pipeline", pl.Name)),
	}

	for _, source := range pl.Sources {
		chain, err := transforms.Chain(source.Transformations)
		if err != nil {
			return nil, fmt.Errorf("source %s transformations: %w", source.Name, err)
		}
		p.sources[source.Name] = chain
	}

	chain, err := transforms.Chain(pl.Transformations)
	if err != nil {
		return nil, fmt.Errorf("pipeline transformations: %w", err)
	}
	p.transform = chain

	for _, sink := range pl.Sinks {
		p.sinks[sink.Name] = make(chan action.Result, sinkBufferSize)
	}

	if pl.DeadLetter != "" {
		peer, err := m.GetPeer(pl.DeadLetter)
		if err != nil {
			return nil, fmt.Errorf("dead letter peer: %w", err)
		}
		publisher, ok := peer.Connector().(DeadLetterPublisher)
		if !ok {
			return nil, fmt.Errorf("dead letter peer %s: %w", peer.Name, ErrDeadLetterUnsupported)
		}
		p.deadLetter = publisher
	}

	return p, nil
}

// Process runs one assembled transaction through the pipeline. It returns an
// error only when the pipeline's halt policy applies.
func (p *Processor) Process(ctx context.Context, source string, t tx.Transaction) error {
	pl := p.pipeline
	timer := prometheus.NewTimer(metrics.DispatchDuration.WithLabelValues(pl.Name, source))
	defer timer.ObserveDuration()

	metrics.Transactions.WithLabelValues(pl.Name, source).Inc()

	transformed, err := p.applyTransformations(source, &t)
	if err != nil {
		return p.fail(t, ReasonTransformation, err)
	}
	if transformed == nil {
		p.logger.Debug("transaction filtered out", zap.String("tx", t.ID))
		return nil
	}

	result, err := p.registry.Dispatch(*transformed)
	if err != nil {
		return p.fail(*transformed, Reason(err), err)
	}

	metrics.MatchedTransactions.WithLabelValues(pl.Name, result.Action).Inc()
	p.logger.Debug("transaction matched",
		zap.String("tx", result.TxID),
		zap.String("action", result.Action))

	p.distribute(ctx, source, *result)
	return nil
}

func (p *Processor) applyTransformations(source string, t *tx.Transaction) (*tx.Transaction, error) {
	if chain, ok := p.sources[source]; ok {
		transformed, err := chain(t)
		if err != nil {
			metrics.TransformationErrors.WithLabelValues("source", p.pipeline.Name, source).Inc()
			return nil, fmt.Errorf("source transformation: %w", err)
		}
		if transformed == nil {
			return nil, nil
		}
		t = transformed
	}

	transformed, err := p.transform(t)
	if err != nil {
		metrics.TransformationErrors.WithLabelValues("pipeline", p.pipeline.Name, source).Inc()
		return nil, fmt.Errorf("pipeline transformation: %w", err)
	}
	return transformed, nil
}

// fail applies the no-match or error policy to a transaction without result.
func (p *Processor) fail(t tx.Transaction, reason string, err error) error {
	pl := p.pipeline
	metrics.DispatchErrors.WithLabelValues(pl.Name, reason).Inc()

	policy := pl.errorPolicy()
	if reason == ReasonNoMatch {
		policy = pl.noMatchPolicy()
	}

	switch policy {
	case PolicyHalt:
		p.logger.Error("halting pipeline",
			zap.String("tx", t.ID),
			zap.String("reason", reason),
			zap.Error(err))
		return fmt.Errorf("pipeline %s: transaction %s: %w", pl.Name, t.ID, err)

	case PolicyDeadLetter:
		letter := DeadLetter{
			Pipeline:    pl.Name,
			Reason:      reason,
			Error:       err.Error(),
			Transaction: t,
		}
		if perr := p.deadLetter.PubDeadLetter(letter); perr != nil {
			metrics.PublishErrors.WithLabelValues(pl.DeadLetter).Inc()
			p.logger.Error("failed to publish dead letter",
				zap.String("tx", t.ID),
				zap.String("peer", pl.DeadLetter),
				zap.Error(perr))
			return nil
		}
		metrics.DeadLetters.WithLabelValues(pl.Name, reason).Inc()
		return nil
	}

	if reason == ReasonNoMatch {
		p.logger.Debug("no action matched", zap.String("tx", t.ID), zap.Stringer("operations", t))
	} else {
		p.logger.Warn("skipping transaction",
			zap.String("tx", t.ID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	return nil
}

func (p *Processor) distribute(ctx context.Context, source string, result action.Result) {
	for _, sink := range p.pipeline.Sinks {
		if len(sink.Actions) > 0 && !slices.Contains(sink.Actions, result.Action) {
			continue
		}
		ch, ok := p.sinks[sink.Name]
		if !ok {
			continue
		}
		select {
		case ch <- result:
			metrics.ProcessedResults.WithLabelValues(p.pipeline.Name, source, sink.Name).Inc()
		case <-ctx.Done():
			return
		}
	}
}

// processSinkResults loads the results of one sink until ctx is canceled.
func (p *Processor) processSinkResults(ctx context.Context, wg *sync.WaitGroup, sink Sink, peer *Peer) {
	defer wg.Done()

	ch := p.sinks[sink.Name]
	connector := peer.Connector()
	for {
		select {
		case result := <-ch:
			if err := connector.Pub(result, peer.Args...); err != nil {
				metrics.PublishErrors.WithLabelValues(sink.Name).Inc()
				p.logger.Error("publish error",
					zap.String("sink", sink.Name),
					zap.String("tx", result.TxID),
					zap.String("action", result.Action),
					zap.Error(err))
			}

		case <-ctx.Done():
			return
		}
	}
}

// Start wires every configured pipeline: sink loaders, source readers and
// subscriptions. Sources shared by several pipelines are read once and fanned
// out. A halting pipeline reports its error on errCh.
func (m *Manager) Start(ctx context.Context, wg *sync.WaitGroup, config *Config, registry *action.Registry, errCh chan<- error) error {
	for _, pl := range config.Pipelines {
		p, err := m.NewProcessor(pl, registry)
		if err != nil {
			return fmt.Errorf("failed to setup pipeline %s: %w", pl.Name, err)
		}

		for _, sink := range pl.Sinks {
			peer, err := m.GetPeer(sink.Name)
			if err != nil {
				return fmt.Errorf("sink peer %s not found: %w", sink.Name, err)
			}
			if peer.Connector().Type() == ConnectorTypeSub {
				return fmt.Errorf("sink peer %s: %w", sink.Name, ErrConnectorTypeMismatch)
			}
			wg.Add(1)
			go p.processSinkResults(ctx, wg, sink, peer)
		}

		for _, source := range pl.Sources {
			if err := m.startSource(ctx, wg, source, p, errCh); err != nil {
				return fmt.Errorf("failed to setup source %s: %w", source.Name, err)
			}
		}
	}
	return nil
}

func (m *Manager) startSource(ctx context.Context, wg *sync.WaitGroup, source Source, p *Processor, errCh chan<- error) error {
	peer, err := m.GetPeer(source.Name)
	if err != nil {
		return err
	}

	// Only set up the source connection for the first subscription
	isFirst := m.IsFirstSubscription(source.Name)
	m.AddSubscription(source.Name, p)
	if !isFirst {
		return nil
	}

	if peer.Connector().Type() == ConnectorTypePub {
		return ErrConnectorTypeMismatch
	}
	events, err := peer.Connector().Sub()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", source.Name, err)
	}

	wg.Add(1)
	go m.processSourceEvents(ctx, wg, source, events, errCh)
	return nil
}

// processSourceEvents assembles the events of a source into transactions and
// fans them out to every subscribed pipeline.
func (m *Manager) processSourceEvents(ctx context.Context, wg *sync.WaitGroup, source Source, events <-chan cdc.Event, errCh chan<- error) {
	defer wg.Done()

	assembler := tx.NewAssembler(m.logger.With(zap.String("source", source.Name)))
	for t := range assembler.Run(ctx, events, source.IdleFlush) {
		for _, p := range m.GetSubscriptions(source.Name) {
			if err := p.Process(ctx, source.Name, t); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
		}
	}
}
