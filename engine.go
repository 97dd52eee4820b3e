package palimpsest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/scriptorium-dev/palimpsest/annotation"
	"github.com/scriptorium-dev/palimpsest/entity"
	"github.com/scriptorium-dev/palimpsest/event"
	"github.com/scriptorium-dev/palimpsest/match"
	"github.com/scriptorium-dev/palimpsest/store"
)

// Engine expands entities by merging the annotations that target them.
type Engine struct {
	store     store.Store
	registry  entity.Registry
	matcher   match.Predicate
	publisher event.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *engineMetrics

	// flight coalesces concurrent expansions of the same identifier
	// and match paths: a second identical Expand issued while one is
	// pending awaits the in-flight result instead of racing a
	// duplicate merge on the same entity. Expansions of the same
	// identifier under different match paths do not coalesce; locks
	// serializes them so their folds never interleave.
	flight singleflight.Group
	locks  sync.Map
}

// New creates an Engine over the given datastore.
func New(st store.Store, opts ...Option) *Engine {
	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.registry == nil {
		cfg.registry = entity.NewMemoryRegistry()
	}
	if cfg.matcher == nil {
		cfg.matcher = match.NewPathPredicate(cfg.logger)
	}

	e := &Engine{
		store:     st,
		registry:  cfg.registry,
		matcher:   cfg.matcher,
		publisher: cfg.publisher,
		logger:    cfg.logger,
		tracer:    cfg.tracer,
	}
	e.metrics = newEngineMetrics(cfg.meter, cfg.logger)
	return e
}

// Registry returns the engine's entity registry.
func (g *Engine) Registry() entity.Registry {
	return g.registry
}

// Expand resolves the entity reference, fetches its base resource and
// every annotation targeting it, and folds the authorized, current
// assertions onto the entity. Annotations previously attached through
// the registry are merged alongside the query result.
//
// The reference may be an identifier string, an *entity.Entity, or a
// decoded document carrying "id" or "@id". An entity or document with
// no resolvable identifier is returned unchanged: an entity without an
// identifier simply cannot be expanded. Any other reference fails with
// ErrIdentifierMissing.
//
// The base-resource fetch and the annotation query run concurrently.
// A fetch failure fails the whole expansion and no partial merge is
// returned; a query failure degrades to zero annotations, leaving the
// base entity useful on its own.
//
// Optional matchOn paths override the engine's default match predicate
// for this call. Concurrent calls for the same identifier coalesce
// only when their match paths agree; calls under different paths each
// run their own expansion, serialized per identifier.
func (g *Engine) Expand(ctx context.Context, ref any, matchOn ...string) (*entity.Entity, error) {
	const op = "Engine.Expand"

	id := entity.IdentifierOf(ref)
	if id == "" {
		if e, ok := ref.(*entity.Entity); ok {
			g.logger.Debug("expand skipped, entity has no identifier")
			return e, nil
		}
		if doc, ok := ref.(map[string]any); ok {
			g.logger.Debug("expand skipped, document has no identifier")
			return entity.FromDocument(doc), nil
		}
		return nil, NewValidationError(op, ErrIdentifierMissing)
	}

	matcher := g.matcher
	key := id
	if len(matchOn) > 0 {
		matcher = match.NewPathPredicate(g.logger, matchOn...)
		key = id + "\x00" + strings.Join(matchOn, "\x00")
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		mu := g.entityLock(id)
		mu.Lock()
		defer mu.Unlock()
		return g.expand(ctx, id, matcher)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.Entity), nil
}

// entityLock returns the mutex serializing expansions of one
// identifier.
func (g *Engine) entityLock(id string) *sync.Mutex {
	mu, _ := g.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (g *Engine) expand(ctx context.Context, id string, matcher match.Predicate) (*entity.Entity, error) {
	const op = "Engine.Expand"

	ctx, span := g.startSpan(ctx, id)
	defer span.End()
	stop := g.metrics.startTimer(ctx)

	// Base resource and annotation query have no ordering dependency.
	type fetchResult struct {
		doc map[string]any
		err error
	}
	type queryResult struct {
		annos []*annotation.Annotation
		err   error
	}
	fetchCh := make(chan fetchResult, 1)
	queryCh := make(chan queryResult, 1)

	go func() {
		doc, err := g.store.FetchResource(ctx, id)
		fetchCh <- fetchResult{doc: doc, err: err}
	}()
	go func() {
		annos, err := g.store.QueryAnnotations(ctx, store.Query{TargetID: id, OnlyCurrent: true})
		queryCh <- queryResult{annos: annos, err: err}
	}()

	fetched := <-fetchCh
	queried := <-queryCh

	if fetched.err != nil {
		span.RecordError(fetched.err)
		span.SetStatus(codes.Error, "base resource fetch failed")
		stop(false)
		return nil, NewFetchError(op, fmt.Errorf("%w: %w", ErrFetchFailed, fetched.err)).
			WithContext(map[string]any{"identifier": id})
	}

	annos := queried.annos
	if queried.err != nil {
		// Deliberate asymmetry: the base entity is still useful
		// without annotations. Logged so a failed query stays
		// distinguishable from a legitimately empty result.
		qerr := NewQueryError(op, queried.err)
		g.logger.Warn("annotation query failed, expanding without annotations",
			slog.String("identifier", id),
			slog.String("error", qerr.Error()),
		)
		annos = nil
	}

	ent, err := g.registry.Resolve(ctx, id)
	if err != nil {
		stop(false)
		return nil, NewInternalError(op, err)
	}
	ent.SetAttributes(fetched.doc)

	// Annotations attached through the registration side channel are
	// merged too, so an attached-but-not-yet-merged annotation is
	// visible without another query round trip. Query results keep
	// their order and win the dedupe; locally attached annotations
	// follow in identifier order.
	seen := make(map[string]struct{}, len(annos))
	for _, a := range annos {
		seen[a.ID] = struct{}{}
	}
	for _, a := range ent.Annotations() {
		if _, dup := seen[a.ID]; !dup {
			annos = append(annos, a)
		}
	}

	applied, skipped := g.fold(ent, annos, matcher)

	span.SetAttributes(
		attribute.Int("palimpsest.annotations", len(annos)),
		attribute.Int("palimpsest.assertions.applied", applied),
		attribute.Int("palimpsest.assertions.skipped", skipped),
	)
	g.metrics.recordAssertions(ctx, applied, skipped)
	stop(true)

	g.publish(ctx, id, ent)
	return ent, nil
}

// fold applies every assertion from the annotations onto the entity in
// query order. Returns counts of applied and skipped assertions.
func (g *Engine) fold(ent *entity.Entity, annos []*annotation.Annotation, matcher match.Predicate) (applied, skipped int) {
	doc := ent.Document()

	for _, a := range annos {
		// The only-current query filter already excludes superseded
		// annotations; re-check here as a correctness backstop. A
		// superseded annotation contributes nothing at all.
		if a.IsSuperseded() {
			g.logger.Debug("skipping superseded annotation", slog.String("annotation", a.ID))
			skipped += len(a.Bodies())
			continue
		}

		for _, body := range a.Bodies() {
			if !g.authorized(matcher, doc, a.Record) {
				g.logger.Debug("annotation not authorized for entity",
					slog.String("annotation", a.ID),
					slog.String("identifier", ent.ID),
				)
				skipped++
				continue
			}

			for key, raw := range body {
				folded, err := g.foldAssertion(ent, key, raw, a)
				if err != nil {
					// One malformed assertion must not abort the
					// whole expansion.
					g.logger.Warn("skipping assertion",
						slog.String("annotation", a.ID),
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					skipped++
					continue
				}
				if !folded {
					skipped++
					continue
				}
				applied++
			}
		}
	}
	return applied, skipped
}

// authorized gates an assertion. Predicates reporting the tri-state
// outcome reject only on a hard provenance mismatch: an annotation
// carrying no provenance evidence at all still applies. A plain
// boolean predicate is taken at its word.
func (g *Engine) authorized(matcher match.Predicate, target, asserting map[string]any) bool {
	if ev, ok := matcher.(match.Evaluator); ok {
		return ev.Evaluate(target, asserting) != match.OutcomeMismatch
	}
	return matcher.Matches(target, asserting)
}

// foldAssertion merges a single key→value assertion onto the entity,
// reporting whether the assertion was applied. Identity and structural
// keys carry no assertion and are skipped without error.
func (g *Engine) foldAssertion(ent *entity.Entity, key string, raw any, from *annotation.Annotation) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: empty key", ErrMalformedAssertion)
	}
	// Identity is immutable; an annotation cannot re-identify its
	// target.
	switch key {
	case "id", "@id", "@context", "@type", "type":
		return false, nil
	}

	vo := annotation.BuildValueObject(raw, from)

	existing, present := ent.Get(key)
	if !present {
		ent.Set(key, vo)
		return true, nil
	}

	switch current := existing.(type) {
	case []any:
		for i, el := range current {
			if held, ok := annotation.AsValueObject(el); ok && from.IsUpdateOf(held.Source.CitationSource) {
				current[i] = vo
				ent.Set(key, current)
				return true, nil
			}
		}
		ent.Set(key, append(current, vo))
		return true, nil
	default:
		if held, ok := annotation.AsValueObject(existing); ok {
			if from.IsUpdateOf(held.Source.CitationSource) {
				ent.Set(key, vo)
			} else {
				ent.Set(key, []any{existing, vo})
			}
			return true, nil
		}
		// Plain scalar entity fields are always replaceable by an
		// annotation; among equally ranked assertions the last one
		// applied wins.
		ent.Set(key, vo)
		return true, nil
	}
}

// publish emits the change notification. Emitted exactly once per
// completed expansion, never on a failed one; publish failures are
// logged, not fatal.
func (g *Engine) publish(ctx context.Context, id string, ent *entity.Entity) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.Publish(ctx, event.Event{Identifier: id, Entity: ent}); err != nil {
		g.logger.Warn("failed to publish change notification",
			slog.String("identifier", id),
			slog.String("error", err.Error()),
		)
	}
}
