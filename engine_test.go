package palimpsest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium-dev/palimpsest/annotation"
	"github.com/scriptorium-dev/palimpsest/entity"
	"github.com/scriptorium-dev/palimpsest/event"
	"github.com/scriptorium-dev/palimpsest/match"
	"github.com/scriptorium-dev/palimpsest/store"
)

// fakeStore serves canned documents and annotation records.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	records []map[string]any

	fetchErr error
	queryErr error

	fetchCalls   atomic.Int32
	fetchGate    chan struct{}
	fetchStarted chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]map[string]any{}}
}

func (f *fakeStore) FetchResource(_ context.Context, id string) (map[string]any, error) {
	f.fetchCalls.Add(1)
	if f.fetchStarted != nil {
		select {
		case f.fetchStarted <- struct{}{}:
		default:
		}
	}
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Copy so the engine cannot mutate the canned document.
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) QueryAnnotations(_ context.Context, q store.Query) ([]*annotation.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var annos []*annotation.Annotation
	for _, record := range f.records {
		a, err := annotation.FromRecord(record)
		if err != nil {
			continue
		}
		for _, target := range a.Targets {
			if target == q.TargetID {
				annos = append(annos, a)
				break
			}
		}
	}
	return annos, nil
}

func record(id, target string, body map[string]any, extra map[string]any) map[string]any {
	r := map[string]any{"@id": id, "target": target, "body": body}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func currentHistory() map[string]any {
	return map[string]any{"history": map[string]any{"previous": nil, "next": []any{}}}
}

// The reference scenario: a single current annotation overrides a base
// property with a provenance-wrapped value object.
func TestExpand_Scenario(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Override"}},
		currentHistory(),
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), map[string]any{"id": "E1"})
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, "E1", ent.ID)

	v, ok := ent.Get("name")
	require.True(t, ok)
	vo, ok := annotation.AsValueObject(v)
	require.True(t, ok, "merged value must be a value object")
	assert.Equal(t, "Override", vo.Value)
	assert.Equal(t, "A1", vo.Source.CitationSource)
	assert.Equal(t, "", vo.Evidence)
}

func TestExpand_ScenarioGolden(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Override"}},
		currentHistory(),
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	data, err := json.MarshalIndent(ent, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "expanded_entity", data)
}

// Expanding again with the same fixed annotation set produces a
// value-for-value identical entity.
func TestExpand_Idempotence(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.records = append(st.records,
		record("A1", "E1", map[string]any{"alternateName": map[string]any{"value": "Georgius"}}, currentHistory()),
		record("A2", "E1", map[string]any{"alternateName": map[string]any{"value": "Gregorios"}}, currentHistory()),
	)

	engine := New(st)
	ctx := context.Background()

	first, err := engine.Expand(ctx, "E1")
	require.NoError(t, err)
	firstDoc := first.Document()

	// Two distinct sources accumulate into a two-element array.
	names, ok := firstDoc["alternateName"].([]any)
	require.True(t, ok)
	require.Len(t, names, 2)

	second, err := engine.Expand(ctx, "E1")
	require.NoError(t, err)

	assert.Same(t, first, second, "registry must hold a single instance per identifier")
	assert.Equal(t, firstDoc, second.Document(), "no duplicate entries, no re-wrapping")
}

// A successor annotation replaces its predecessor's value in
// place; the result is never the stale value and never an array.
func TestExpand_PrecedenceDirection(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1"}
	st.records = append(st.records,
		record("A", "E1", map[string]any{"name": map[string]any{"value": "X"}},
			map[string]any{"history": map[string]any{"previous": nil, "next": []any{}}}),
		record("B", "E1", map[string]any{"name": map[string]any{"value": "Y"}},
			map[string]any{"history": map[string]any{"previous": "A", "next": []any{}}}),
	)

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	v, ok := ent.Get("name")
	require.True(t, ok)
	vo, ok := annotation.AsValueObject(v)
	require.True(t, ok, "must not be an array")
	assert.Equal(t, "Y", vo.Value)
	assert.Equal(t, "B", vo.Source.CitationSource)
}

// An update edge also replaces in place inside an accumulated array.
func TestExpand_UpdateInsideArray(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1"}
	st.records = append(st.records,
		record("A1", "E1", map[string]any{"alternateName": map[string]any{"value": "Georgius"}}, currentHistory()),
		record("A2", "E1", map[string]any{"alternateName": map[string]any{"value": "Gregorios"}}, currentHistory()),
		record("A3", "E1", map[string]any{"alternateName": map[string]any{"value": "Gregory"}},
			map[string]any{"history": map[string]any{"previous": "A1", "next": []any{}}}),
	)

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	names, ok := ent.Flatten("alternateName").([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"Gregory", "Gregorios"}, names)
}

// A superseded annotation contributes nothing, even though its
// body would otherwise match.
func TestExpand_SupersededSkip(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Stale"}},
		map[string]any{"history": map[string]any{"previous": nil, "next": []any{"A2"}}},
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	v, _ := ent.Get("name")
	assert.Equal(t, "Base", v, "superseded assertion must not alter the entity")
}

// A plain scalar entity field is replaced by the value object, not
// promoted to an array.
func TestExpand_ScalarPromotion(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "birthPlace": "Rome"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"birthPlace": map[string]any{"value": "Antioch"}},
		currentHistory(),
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	v, ok := ent.Get("birthPlace")
	require.True(t, ok)
	vo, ok := annotation.AsValueObject(v)
	require.True(t, ok, "replacement, not array")
	assert.Equal(t, "Antioch", vo.Value)
}

// An annotation whose provenance mismatches the entity's must not
// alter the entity at all.
func TestExpand_MatchGating(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "creator": "alice", "name": "Base"}
	st.records = append(st.records,
		record("A1", "E1", map[string]any{"name": map[string]any{"value": "Forged"}},
			map[string]any{"creator": "mallory"}),
		record("A2", "E1", map[string]any{"birthPlace": map[string]any{"value": "Antioch"}},
			map[string]any{"creator": "alice"}),
	)

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	v, _ := ent.Get("name")
	assert.Equal(t, "Base", v, "mismatched creator must be rejected")

	_, ok := ent.Get("birthPlace")
	assert.True(t, ok, "matching creator must be applied")
}

// A failed annotation query degrades to the unannotated base
// entity instead of failing the expansion.
func TestExpand_QueryDegradation(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.queryErr = store.ErrQueryFailed

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)
	require.NotNil(t, ent)

	v, _ := ent.Get("name")
	assert.Equal(t, "Base", v)
}

// A failed base-resource fetch is fatal: no partial merge and no
// change notification.
func TestExpand_FetchFailureFatal(t *testing.T) {
	st := newFakeStore()
	st.fetchErr = errors.New("connection refused")

	bus := event.NewBus()
	events := bus.Subscribe()

	engine := New(st, WithPublisher(bus))
	ent, err := engine.Expand(context.Background(), "E1")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Nil(t, ent)

	select {
	case <-events:
		t.Fatal("no event may be published for a failed expansion")
	default:
	}
}

// An annotation attached through the registration side channel is
// merged on the next expansion even when the store query does not
// return it.
func TestExpand_MergesAttachedAnnotations(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1"}

	engine := New(st)
	ctx := context.Background()

	a, err := annotation.FromRecord(record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Attached"}},
		currentHistory(),
	))
	require.NoError(t, err)
	require.NoError(t, a.RegisterWith(ctx, engine.Registry()))

	ent, err := engine.Expand(ctx, "E1")
	require.NoError(t, err)

	v, ok := ent.Get("name")
	require.True(t, ok, "attached annotation must be visible to the merge")
	vo, ok := annotation.AsValueObject(v)
	require.True(t, ok)
	assert.Equal(t, "Attached", vo.Value)
	assert.Equal(t, "A1", vo.Source.CitationSource)
}

// An annotation both returned by the query and attached to the entity
// contributes once.
func TestExpand_AttachedAnnotationNotDuplicated(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1"}
	rec := record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Once"}},
		currentHistory(),
	)
	st.records = append(st.records, rec)

	engine := New(st)
	ctx := context.Background()

	a, err := annotation.FromRecord(rec)
	require.NoError(t, err)
	require.NoError(t, a.RegisterWith(ctx, engine.Registry()))

	ent, err := engine.Expand(ctx, "E1")
	require.NoError(t, err)

	v, ok := ent.Get("name")
	require.True(t, ok)
	_, ok = annotation.AsValueObject(v)
	assert.True(t, ok, "a duplicated fold would have promoted the value to an array")
}

// An attached annotation still passes through the supersession and
// match gates.
func TestExpand_AttachedAnnotationGated(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "creator": "alice"}

	engine := New(st)
	ctx := context.Background()

	superseded, err := annotation.FromRecord(record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "Stale"}},
		map[string]any{"history": map[string]any{"previous": nil, "next": []any{"A2"}}},
	))
	require.NoError(t, err)
	require.NoError(t, superseded.RegisterWith(ctx, engine.Registry()))

	forged, err := annotation.FromRecord(record("A3", "E1",
		map[string]any{"name": map[string]any{"value": "Forged"}},
		map[string]any{"creator": "mallory"},
	))
	require.NoError(t, err)
	require.NoError(t, forged.RegisterWith(ctx, engine.Registry()))

	ent, err := engine.Expand(ctx, "E1")
	require.NoError(t, err)

	_, ok := ent.Get("name")
	assert.False(t, ok, "gates apply to attached annotations too")
}

// An entity reference without an identifier cannot be expanded; the
// input passes through unchanged and the store is never consulted.
func TestExpand_NoIdentifierPassThrough(t *testing.T) {
	st := newFakeStore()
	engine := New(st)

	detached := entity.FromDocument(map[string]any{"name": "anonymous"})
	ent, err := engine.Expand(context.Background(), detached)
	require.NoError(t, err)
	assert.Same(t, detached, ent)
	assert.Equal(t, int32(0), st.fetchCalls.Load())
}

func TestExpand_EventPublishedOnce(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}

	bus := event.NewBus()
	events := bus.Subscribe()

	engine := New(st, WithPublisher(bus))
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "E1", ev.Identifier)
	assert.Same(t, ent, ev.Entity)

	select {
	case <-events:
		t.Fatal("exactly one event per completed expansion")
	default:
	}
}

// A second expansion of the same identifier issued while one is
// pending awaits the in-flight result instead of starting a duplicate
// merge.
func TestExpand_InFlightCoalescing(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.fetchGate = make(chan struct{})
	st.fetchStarted = make(chan struct{}, 1)

	engine := New(st)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*entity.Entity, 2)
	expand := func(i int) {
		defer wg.Done()
		ent, err := engine.Expand(ctx, "E1")
		assert.NoError(t, err)
		results[i] = ent
	}

	wg.Add(2)
	go expand(0)
	// Hold the first expansion open inside its fetch, then issue the
	// second while it is pending.
	<-st.fetchStarted
	go expand(1)
	time.Sleep(50 * time.Millisecond)
	close(st.fetchGate)
	wg.Wait()

	assert.Same(t, results[0], results[1])
	assert.Equal(t, int32(1), st.fetchCalls.Load(), "concurrent expansions must share one fetch")
}

// Concurrent expansions of the same identifier under different match
// paths must not share a result; each runs its own fold under its own
// matcher.
func TestExpand_DistinctMatchPathsNotCoalesced(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "creator": "alice"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "X"}},
		map[string]any{"creator": "mallory"},
	))
	st.fetchGate = make(chan struct{})
	st.fetchStarted = make(chan struct{}, 1)

	engine := New(st)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// Default paths: the creator mismatch rejects the annotation.
		_, err := engine.Expand(ctx, "E1")
		assert.NoError(t, err)
	}()
	<-st.fetchStarted

	var underOwnPaths *entity.Entity
	go func() {
		defer wg.Done()
		// Neither side carries this path, so the annotation applies.
		ent, err := engine.Expand(ctx, "E1", "editor")
		assert.NoError(t, err)
		underOwnPaths = ent
	}()

	close(st.fetchGate)
	wg.Wait()

	assert.Equal(t, int32(2), st.fetchCalls.Load(), "different match paths must not coalesce")
	_, ok := underOwnPaths.Get("name")
	assert.True(t, ok, "the second call must fold under its own matcher")
}

// A reference that cannot carry an identifier at all is a validation
// failure, not a silent nil result.
func TestExpand_UnresolvableReference(t *testing.T) {
	engine := New(newFakeStore())
	_, err := engine.Expand(context.Background(), 42)
	require.ErrorIs(t, err, ErrIdentifierMissing)
}

// Identity and structural body keys are counted as skipped, not
// applied.
func TestFold_StructuralKeysSkipped(t *testing.T) {
	engine := New(newFakeStore())
	ent := entity.FromDocument(map[string]any{"id": "E1"})

	a, err := annotation.FromRecord(record("A1", "E1",
		map[string]any{
			"name":  map[string]any{"value": "x"},
			"@type": "Annotation",
			"id":    "E2",
		},
		currentHistory(),
	))
	require.NoError(t, err)

	applied, skipped := engine.fold(ent, []*annotation.Annotation{a}, match.NewPathPredicate(nil))
	assert.Equal(t, 1, applied)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "E1", ent.ID)
}

// Per-call match paths override the engine default.
func TestExpand_PerCallMatchPaths(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "provenance": map[string]any{"agent": "a1"}}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"name": map[string]any{"value": "X"}},
		map[string]any{"provenance": map[string]any{"agent": "a2"}},
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1", "provenance.agent")
	require.NoError(t, err)

	_, ok := ent.Get("name")
	assert.False(t, ok, "mismatched provenance under the per-call path must be rejected")
}

// A malformed body entry is contained to that entry.
func TestExpand_MalformedAssertionIsolated(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"": "no key", "name": map[string]any{"value": "kept"}},
		currentHistory(),
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)

	v, ok := ent.Get("name")
	require.True(t, ok)
	vo, _ := annotation.AsValueObject(v)
	assert.Equal(t, "kept", vo.Value)
}

// An annotation cannot re-identify its target.
func TestExpand_IdentityImmutable(t *testing.T) {
	st := newFakeStore()
	st.docs["E1"] = map[string]any{"id": "E1", "name": "Base"}
	st.records = append(st.records, record("A1", "E1",
		map[string]any{"id": "E2", "@id": "E2"},
		currentHistory(),
	))

	engine := New(st)
	ent, err := engine.Expand(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, "E1", ent.ID)
	assert.Equal(t, "E1", ent.Document()["id"])
}
