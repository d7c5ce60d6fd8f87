package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/source"
	"github.com/vk/pipegrid/internal/testutil"
)

// semicolonParser splits "a; b" lines into codepoint/value rows.
func semicolonParser(_ context.Context, _ pipeline.FileContext, content string) pipeline.Rows {
	return func(yield func(pipeline.Row, error) bool) {
		for _, line := range strings.Split(content, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			codepoint, value, _ := strings.Cut(line, ";")
			row := pipeline.Row{"codepoint": strings.TrimSpace(codepoint), "value": strings.TrimSpace(value)}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func nameIs(name string) pipeline.Filter {
	return func(f pipeline.FileContext) (bool, error) { return f.Name == name, nil }
}

// emitAll publishes every row's value under id and returns the rows.
func emitAll(id string) pipeline.Resolver {
	return func(ctx context.Context, rc pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		entries, err := pipeline.IdentityResolver(ctx, rc, rows)
		if err != nil {
			return nil, err
		}
		var values []any
		for _, e := range entries {
			values = append(values, e["value"])
		}
		return entries, rc.Emit(id, values)
	}
}

// readArtifact returns the artifact id as the single output entry.
func readArtifact(id string) pipeline.Resolver {
	return func(_ context.Context, rc pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		if _, err := pipeline.Collect(rows); err != nil {
			return nil, err
		}
		v, ok := rc.Artifact(id)
		if !ok {
			return nil, errors.New("artifact missing")
		}
		return []pipeline.Entry{{"artifact": v}}, nil
	}
}

func unicodeDefinition(backend pipeline.Backend) *pipeline.Definition {
	return &pipeline.Definition{
		ID:       "unicode",
		Versions: []string{"16.0.0"},
		Sources:  []pipeline.Source{{ID: "ucd", Backend: backend}},
		Routes: []pipeline.Route{{
			ID:       "names",
			Filter:   nameIs("UnicodeData.txt"),
			Parser:   semicolonParser,
			Resolver: pipeline.IdentityResolver,
			Cache:    true,
		}},
	}
}

func TestRun_SecondRunIsServedFromCache(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"16.0.0/UnicodeData.txt": "0041; A\n"})
	col := events.NewCollector()
	eng := New(Config{Cache: cache.NewMemoryStore(0, 0), Sink: col})
	def := unicodeDefinition(backend)

	first, err := eng.Run(ctx, def, nil)
	require.NoError(t, err)
	unit, ok := first.Unit("16.0.0", "names")
	require.True(t, ok)
	require.Equal(t, Completed, unit.State)
	want := []pipeline.Entry{{"codepoint": "0041", "value": "A"}}
	if diff := cmp.Diff(want, unit.Output); diff != "" {
		t.Fatalf("unexpected output (-want +got):\n%s", diff)
	}
	assert.Len(t, col.ByType(events.CacheMiss), 1)
	assert.Len(t, col.ByType(events.CacheStore), 1)

	col.Reset()
	second, err := eng.Run(ctx, def, nil)
	require.NoError(t, err)
	cached, _ := second.Unit("16.0.0", "names")
	assert.Equal(t, SkippedCached, cached.State)
	assert.Equal(t, "Skipped-Cached", cached.State.String())
	if diff := cmp.Diff(want, cached.Output); diff != "" {
		t.Fatalf("cached output differs (-want +got):\n%s", diff)
	}
	assert.True(t, unit.Key.Equal(cached.Key))
	assert.Len(t, col.ByType(events.CacheHit), 1)
	assert.Empty(t, col.ByType(events.PhaseParse.Start()), "cached units must not parse")
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
}

func TestRun_ArtifactChangesInvalidateDependents(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{
		"v1/names.txt":  "0041; A\n",
		"v1/blocks.txt": "0000; Basic Latin\n",
	})
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{
				ID:        "consumer",
				Filter:    nameIs("blocks.txt"),
				Parser:    semicolonParser,
				Resolver:  readArtifact("names"),
				Cache:     true,
				DependsOn: pipeline.MustParseDependencies("artifact:names"),
			},
			{
				ID:       "producer",
				Filter:   nameIs("names.txt"),
				Parser:   semicolonParser,
				Resolver: emitAll("names"),
				Cache:    true,
				Emits:    []string{"names"},
			},
		},
	}
	eng := New(Config{Cache: cache.NewMemoryStore(0, 0)})

	states := func(r *Report) map[string]State {
		out := make(map[string]State)
		for _, u := range r.Units {
			out[u.RouteID] = u.State
		}
		return out
	}

	r1, err := eng.Run(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]State{"producer": Completed, "consumer": Completed}, states(r1))
	consumer, _ := r1.Unit("v1", "consumer")
	assert.Equal(t, []pipeline.Entry{{"artifact": []any{"A"}}}, consumer.Output)

	r2, err := eng.Run(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]State{"producer": SkippedCached, "consumer": SkippedCached}, states(r2))

	t.Run("same artifact from different input keeps dependents cached", func(t *testing.T) {
		backend.Put("v1", "names.txt", "0041;A\n")
		r, err := eng.Run(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]State{"producer": Completed, "consumer": SkippedCached}, states(r))
	})

	t.Run("changed artifact re-executes dependents", func(t *testing.T) {
		backend.Put("v1", "names.txt", "0042; B\n")
		r, err := eng.Run(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]State{"producer": Completed, "consumer": Completed}, states(r))
		c, _ := r.Unit("v1", "consumer")
		assert.Equal(t, []pipeline.Entry{{"artifact": []any{"B"}}}, c.Output)
	})
}

func TestRun_DependentsStartAfterUpstreamCompletes(t *testing.T) {
	ctx, _ := testutil.Context(t)
	inner := source.NewMemory(map[string]string{"v1/a.txt": "1; a\n", "v1/b.txt": "2; b\n"})
	backend := testutil.NewRecordingBackend(inner, 20*time.Millisecond)
	col := events.NewCollector()
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{ID: "b", Filter: nameIs("b.txt"), Parser: semicolonParser, Resolver: readArtifact("a"), DependsOn: pipeline.MustParseDependencies("artifact:a")},
			{ID: "a", Filter: nameIs("a.txt"), Parser: semicolonParser, Resolver: emitAll("a"), Emits: []string{"a"}},
		},
	}

	report, err := New(Config{Concurrency: 4, Sink: col}).Run(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	var aEnd, bStart time.Time
	for _, e := range col.Events() {
		switch {
		case e.Type == events.PhaseRoute.End() && e.RouteID == "a":
			aEnd = e.Timestamp
		case e.Type == events.PhaseRoute.Start() && e.RouteID == "b":
			bStart = e.Timestamp
		}
	}
	require.False(t, aEnd.IsZero())
	require.False(t, bStart.IsZero())
	assert.False(t, bStart.Before(aEnd), "b started before a completed")

	readA, _ := backend.Record("v1/a.txt")
	readB, _ := backend.Record("v1/b.txt")
	assert.True(t, readB.Start.After(readA.End))
}

func TestRun_FailureOnlyPropagatesToDependents(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"v1/a.txt": "1; a\n"})
	col := events.NewCollector()
	boom := errors.New("boom")
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{ID: "broken", Parser: semicolonParser, Resolver: func(context.Context, pipeline.ResolveContext, pipeline.Rows) ([]pipeline.Entry, error) {
				return nil, boom
			}},
			{ID: "downstream", Parser: semicolonParser, DependsOn: pipeline.MustParseDependencies("route:broken")},
			{ID: "transitive", Parser: semicolonParser, DependsOn: pipeline.MustParseDependencies("route:downstream")},
			{ID: "independent", Parser: semicolonParser},
		},
	}

	report, err := New(Config{Sink: col}).Run(ctx, def, nil)
	require.NoError(t, err)

	broken, _ := report.Unit("v1", "broken")
	assert.Equal(t, Failed, broken.State)
	assert.ErrorIs(t, broken.Err, boom)

	downstream, _ := report.Unit("v1", "downstream")
	assert.Equal(t, Failed, downstream.State)
	var upstream *UpstreamError
	require.ErrorAs(t, downstream.Err, &upstream)
	assert.Equal(t, "broken", upstream.Upstream)
	assert.EqualError(t, downstream.Err, "skipped due to upstream failure of 'broken'")

	transitive, _ := report.Unit("v1", "transitive")
	assert.Equal(t, Failed, transitive.State)

	independent, _ := report.Unit("v1", "independent")
	assert.Equal(t, Completed, independent.State)
	assert.Equal(t, []pipeline.Entry{{"codepoint": "1", "value": "a"}}, independent.Output)

	assert.False(t, report.Succeeded())
	assert.Equal(t, 3, report.Counts()[Failed])
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "v1/broken: route 'broken': boom")

	var routeSpan string
	for _, e := range col.ByType(events.PhaseRoute.Start()) {
		if e.RouteID == "broken" {
			routeSpan = e.SpanID
		}
	}
	var found bool
	for _, e := range col.ByType(events.Error) {
		if e.RouteID == "broken" {
			found = true
			assert.Equal(t, routeSpan, e.SpanID)
			assert.Contains(t, e.Error, "boom")
		}
	}
	assert.True(t, found, "missing error event for the failed unit")
}

func TestRun_CancelKeepsCompletedCacheEntries(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first := source.NewMemory(map[string]string{"v1/one.txt": "1; one\n"})
	blocking := testutil.NewBlockingBackend(source.NewMemory(map[string]string{"v1/two.txt": "2; two\n"}), "v1/two.txt")
	defer blocking.Release()

	store := cache.NewMemoryStore(0, 0)
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources: []pipeline.Source{
			{ID: "first", Backend: first},
			{ID: "second", Backend: blocking},
		},
		Routes: []pipeline.Route{
			{ID: "u1", Sources: []string{"first"}, Parser: semicolonParser, Cache: true},
			{ID: "u2", Sources: []string{"second"}, Parser: semicolonParser, Cache: true, DependsOn: pipeline.MustParseDependencies("route:u1")},
			{ID: "u3", Sources: []string{"first"}, Parser: semicolonParser, Cache: true, DependsOn: pipeline.MustParseDependencies("route:u2")},
		},
	}

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := New(Config{Cache: store, OperationTimeout: time.Minute}).Run(ctx, def, nil)
		done <- result{r, err}
	}()

	select {
	case <-blocking.Entered:
	case <-time.After(5 * time.Second):
		t.Fatal("u2 never reached its backend read")
	}
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	require.ErrorIs(t, res.err, context.Canceled)
	require.NotNil(t, res.report)

	u1, _ := res.report.Unit("v1", "u1")
	u2, _ := res.report.Unit("v1", "u2")
	u3, _ := res.report.Unit("v1", "u3")
	assert.Equal(t, Completed, u1.State)
	assert.Equal(t, Cancelled, u2.State)
	assert.Equal(t, Cancelled, u3.State)

	has, err := store.Has(context.Background(), u1.Key)
	require.NoError(t, err)
	assert.True(t, has, "completed unit's cache entry must survive cancellation")
	assert.Equal(t, 1, store.Len())
}

func TestRun_OperationTimeoutFailsOnlyTheUnit(t *testing.T) {
	ctx, _ := testutil.Context(t)
	slow := testutil.NewBlockingBackend(source.NewMemory(map[string]string{"v1/slow.txt": "1; x\n"}), "v1/slow.txt")
	defer slow.Release()
	fast := source.NewMemory(map[string]string{"v1/fast.txt": "2; y\n"})

	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources: []pipeline.Source{
			{ID: "slow", Backend: slow},
			{ID: "fast", Backend: fast},
		},
		Routes: []pipeline.Route{
			{ID: "slow", Sources: []string{"slow"}, Parser: semicolonParser},
			{ID: "fast", Sources: []string{"fast"}, Parser: semicolonParser},
		},
	}

	report, err := New(Config{OperationTimeout: 50 * time.Millisecond}).Run(ctx, def, nil)
	require.NoError(t, err)

	slowUnit, _ := report.Unit("v1", "slow")
	assert.Equal(t, Failed, slowUnit.State)
	var timeout *TimeoutError
	require.ErrorAs(t, slowUnit.Err, &timeout)
	assert.ErrorIs(t, slowUnit.Err, context.DeadlineExceeded)

	fastUnit, _ := report.Unit("v1", "fast")
	assert.Equal(t, Completed, fastUnit.State)
}

func TestRun_ConfigurationErrorsStopBeforeExecution(t *testing.T) {
	ctx, _ := testutil.Context(t)
	col := events.NewCollector()
	backend := source.NewMemory(nil)
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{ID: "a", Parser: semicolonParser, DependsOn: pipeline.MustParseDependencies("route:b")},
			{ID: "b", Parser: semicolonParser, DependsOn: pipeline.MustParseDependencies("route:a")},
		},
	}

	report, err := New(Config{Sink: col}).Run(ctx, def, nil)
	require.Error(t, err)
	assert.Nil(t, report)
	var cycle *graph.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a", "b"}, cycle.Routes)
	assert.Empty(t, col.Events())

	_, err = New(Config{}).Run(ctx, def, []string{"v9"})
	require.ErrorIs(t, err, pipeline.ErrInvalidDefinition)
}

func TestRun_SpansAreBalancedAndNested(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"v1/a.txt": "1; a\n", "v1/b.txt": "2; b\n"})
	col := events.NewCollector()
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{ID: "r", Parser: semicolonParser, Resolver: emitAll("letters"), Emits: []string{"letters"}},
		},
	}

	_, err := New(Config{Sink: col}).Run(ctx, def, nil, WithExecutionID("exec-42"))
	require.NoError(t, err)

	stream := col.Events()
	open := make(map[string]events.Event)
	for _, e := range stream {
		assert.Equal(t, "exec-42", e.ExecutionID)
		switch {
		case e.Type.IsStart():
			open[e.SpanID] = e
		case e.Type.IsEnd():
			start, ok := open[e.SpanID]
			require.True(t, ok, "end without start: %s", e.Type)
			sp, _ := start.Type.Phase()
			ep, _ := e.Type.Phase()
			assert.Equal(t, sp, ep)
			require.NotNil(t, e.DurationMs)
			delete(open, e.SpanID)
		}
	}
	assert.Empty(t, open, "unbalanced spans")

	roots := events.Waterfall(stream)
	require.Len(t, roots, 1)
	assert.Equal(t, events.PhasePipeline, roots[0].Phase)
	version := roots[0].Children[0]
	assert.Equal(t, events.PhaseVersion, version.Phase)
	route := version.Children[0]
	assert.Equal(t, events.PhaseRoute, route.Phase)
	assert.Equal(t, "Completed", route.State)
	resolve := route.Children[0]
	assert.Equal(t, events.PhaseResolve, resolve.Phase)

	var phases []events.Phase
	for _, c := range resolve.Children {
		phases = append(phases, c.Phase)
	}
	assert.Equal(t, []events.Phase{events.PhaseParse, events.PhaseParse, events.PhaseArtifact}, phases)
	assert.Equal(t, "v1/a.txt", resolve.Children[0].Fields.File)
	assert.Equal(t, "letters", resolve.Children[2].Fields.ArtifactID)
}

func TestRun_ArtifactContract(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"v1/a.txt": "1; a\n"})

	tests := []struct {
		name  string
		route pipeline.Route
		want  error
	}{
		{
			name:  "undeclared artifact",
			route: pipeline.Route{ID: "r", Parser: semicolonParser, Resolver: emitAll("other")},
			want:  ErrUndeclaredArtifact,
		},
		{
			name:  "declared artifact never emitted",
			route: pipeline.Route{ID: "r", Parser: semicolonParser, Emits: []string{"letters"}},
			want:  ErrMissingArtifact,
		},
		{
			name: "artifact emitted twice",
			route: pipeline.Route{ID: "r", Parser: semicolonParser, Emits: []string{"letters"},
				Resolver: func(_ context.Context, rc pipeline.ResolveContext, _ pipeline.Rows) ([]pipeline.Entry, error) {
					if err := rc.Emit("letters", 1); err != nil {
						return nil, err
					}
					return nil, rc.Emit("letters", 2)
				}},
			want: ErrArtifactExists,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := &pipeline.Definition{
				ID:       "p",
				Versions: []string{"v1"},
				Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
				Routes:   []pipeline.Route{tc.route},
			}
			report, err := New(Config{}).Run(ctx, def, nil)
			require.NoError(t, err)
			u, _ := report.Unit("v1", "r")
			assert.Equal(t, Failed, u.State)
			assert.ErrorIs(t, u.Err, tc.want)
		})
	}
}

func TestRun_ParserErrorsAreNotSwallowed(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"v1/a.txt": "x"})
	bad := func(context.Context, pipeline.FileContext, string) pipeline.Rows {
		return func(yield func(pipeline.Row, error) bool) {
			yield(nil, errors.New("bad line"))
		}
	}
	// A resolver that ignores row errors must not hide them.
	careless := func(_ context.Context, _ pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		for range rows {
		}
		return nil, nil
	}
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes:   []pipeline.Route{{ID: "r", Parser: bad, Resolver: careless}},
	}
	report, err := New(Config{}).Run(ctx, def, nil)
	require.NoError(t, err)
	u, _ := report.Unit("v1", "r")
	assert.Equal(t, Failed, u.State)
	assert.ErrorContains(t, u.Err, "bad line")
}

type brokenStore struct{ cache.Store }

func (brokenStore) Get(context.Context, cache.Key) (*cache.Entry, bool, error) {
	return nil, false, errors.New("store offline")
}

func (brokenStore) Set(context.Context, *cache.Entry) error {
	return errors.New("store offline")
}

func TestRun_CacheErrorsDegradeToMiss(t *testing.T) {
	ctx, _ := testutil.Context(t)
	backend := source.NewMemory(map[string]string{"16.0.0/UnicodeData.txt": "0041; A\n"})
	col := events.NewCollector()

	report, err := New(Config{Cache: brokenStore{}, Sink: col}).Run(ctx, unicodeDefinition(backend), nil)
	require.NoError(t, err)
	u, _ := report.Unit("16.0.0", "names")
	assert.Equal(t, Completed, u.State)

	cacheErrors := col.ByType(events.CacheError)
	require.Len(t, cacheErrors, 2)
	assert.Equal(t, events.CacheOpRead, cacheErrors[0].State)
	assert.Equal(t, events.CacheOpWrite, cacheErrors[1].State)
	assert.Len(t, col.ByType(events.CacheMiss), 1)
}

func TestRun_ConcurrencyLimitIsRespected(t *testing.T) {
	ctx, _ := testutil.Context(t)
	inner := source.NewMemory(map[string]string{
		"v1/a.txt": "1; a\n", "v1/b.txt": "2; b\n",
		"v2/a.txt": "1; a\n", "v2/b.txt": "2; b\n",
	})
	backend := testutil.NewRecordingBackend(inner, 15*time.Millisecond)
	def := &pipeline.Definition{
		ID:       "p",
		Versions: []string{"v1", "v2"},
		Sources:  []pipeline.Source{{ID: "s", Backend: backend}},
		Routes: []pipeline.Route{
			{ID: "a", Filter: nameIs("a.txt"), Parser: semicolonParser},
			{ID: "b", Filter: nameIs("b.txt"), Parser: semicolonParser},
		},
	}

	report, err := New(Config{Concurrency: 1, VersionBatchSize: 2}).Run(ctx, def, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Units, 4)
	assert.Equal(t, "v1", report.Units[0].Version)
	assert.Equal(t, "v2", report.Units[3].Version)

	var windows []*testutil.ExecutionRecord
	for _, p := range []string{"v1/a.txt", "v1/b.txt", "v2/a.txt", "v2/b.txt"} {
		rec, ok := backend.Record(p)
		require.True(t, ok, p)
		windows = append(windows, rec)
	}
	for i := range windows {
		for j := i + 1; j < len(windows); j++ {
			overlap := windows[i].Start.Before(windows[j].End) && windows[j].Start.Before(windows[i].End)
			assert.False(t, overlap, "reads %d and %d overlapped with a concurrency of 1", i, j)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(Pending, Running))
	assert.True(t, canTransition(Pending, Cancelled))
	assert.True(t, canTransition(Running, SkippedCached))
	assert.False(t, canTransition(Pending, Completed))
	assert.False(t, canTransition(Completed, Running))
	assert.False(t, canTransition(Cancelled, Failed))
	assert.Equal(t, "Cancelled", Cancelled.String())
}
