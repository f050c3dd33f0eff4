package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/artifact"
	"codec-bench/internal/config"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
	"codec-bench/pkg/logging"
)

const (
	runBucket   = "run-bucket"
	payloadSize = 1000
	encodedSize = 400
)

// recordingResults 记录写入的指标
type recordingResults struct {
	mu     sync.Mutex
	values map[string]map[results.Field]float64
	err    error
}

func (r *recordingResults) SetMetric(_ context.Context, id string, f results.Field, v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		r.values = map[string]map[results.Field]float64{}
	}
	if r.values[id] == nil {
		r.values[id] = map[results.Field]float64{}
	}
	r.values[id][f] = v
	return nil
}

func (r *recordingResults) get(id string, f results.Field) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[id][f]
	return v, ok
}

// recordingUnits 记录被物化的单元
type recordingUnits struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (u *recordingUnits) Materialize(_ context.Context, unit sandbox.Unit) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, unit.Name)
	return u.err
}

// tickingClock 每次调用前进 step
func tickingClock(step time.Duration) sandbox.Clock {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

// fakeTools 按阶段写入预期输出的沙箱行为
func fakeTools(t *testing.T) func(spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
	return func(spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
		var out string
		for _, b := range spec.Bindings {
			if b.SandboxPath == sandbox.OutputMount {
				out = b.HostPath
			}
		}
		require.NotEmpty(t, out, "output binding missing")
		write := func(name string, data []byte) {
			require.NoError(t, os.WriteFile(filepath.Join(out, name), data, 0644))
		}

		switch spec.Label {
		case StageDeconstruct:
			write("test.npy", make([]byte, payloadSize))
			write("test.meta.xml", []byte("<mzML/>"))
		case StageSearch:
			base := spec.Command[len(spec.Command)-1]
			peptides := []string{"AAA", "BBB", "CCC", "DDD"}
			if base == "new" {
				peptides = []string{"AAA", "BBB", "CCC", "EEE"}
			}
			write(base+".pep.xml", []byte("<pep/>"))
			write(base+".pin", []byte("pin"))
			write(base+".txt", []byte(tsv(peptides...)))
		case StageEncode:
			write(filepath.Base(spec.Command[2]), make([]byte, encodedSize))
		case StageDecode:
			write(filepath.Base(spec.Command[2]), make([]byte, payloadSize))
		case StageReconstruct:
			write(ReconstructedName, []byte("<mzML reconstructed/>"))
		}
		return &sandbox.RunResult{}, nil
	}
}

type harness struct {
	objects *artifact.MemoryStore
	store   *artifact.Store
	sandbox *sandbox.MockSandbox
	units   *recordingUnits
	results *recordingResults
	orch    *Orchestrator
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		objects: artifact.NewMemoryStore(),
		sandbox: &sandbox.MockSandbox{},
		units:   &recordingUnits{},
		results: &recordingResults{},
	}
	h.store = artifact.NewStore(h.objects)
	h.sandbox.Handler = fakeTools(t)

	cfg := Config{
		RunBucket: runBucket,
		Reference: config.ReferenceConfig{Name: "test.mzML"},
		Tools: config.ToolsConfig{
			Deconstruct: config.ToolConfig{Image: "tools:latest", Command: []string{"deconstruct", "{input}", "{output_dir}"}},
			Reconstruct: config.ToolConfig{Image: "tools:latest", Command: []string{"reconstruct", "{meta}", "{payload}", "{output}"}},
			Search:      config.ToolConfig{Image: "search:latest", Command: []string{"search", "{input}", "{output_dir}", "{base}"}},
		},
		TimedRuns:      5,
		Idempotency:    config.IdempotencyMarker,
		SearchSuffixes: []string{".pep.xml", ".pin", ".txt"},
		Clock:          tickingClock(time.Second),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.orch = New(cfg, Deps{
		Artifacts:  h.store,
		Sandbox:    h.sandbox,
		Units:      h.units,
		Results:    h.results,
		Workspaces: sandbox.NewWorkspaceManager(t.TempDir()),
		Logger:     logging.Discard(),
	})
	return h
}

func (h *harness) seedReference(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), h.orch.ReferenceScope(), "test.mzML", []byte("<mzML raw/>"), ""))
}

func (h *harness) has(key string) bool {
	for _, k := range h.objects.Keys(runBucket) {
		if k == key {
			return true
		}
	}
	return false
}

func labels(specs []sandbox.ExecutionSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Label
	}
	return out
}

func kinds(outs []Outcome) []Kind {
	ks := make([]Kind, len(outs))
	for i, o := range outs {
		ks[i] = o.Kind
	}
	return ks
}

func TestPrepareReference_DownloadsOnceAndSkips(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("<mzML raw/>"))
	}))
	defer srv.Close()

	h := newHarness(t, func(c *Config) { c.Reference.URL = srv.URL + "/test.mzML" })
	ctx := context.Background()

	outs, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindCompleted, KindCompleted, KindCompleted}, kinds(outs))
	assert.Equal(t, []string{StageDeconstruct, StageSearch}, labels(h.sandbox.Specs()))
	assert.Equal(t, 1, hits)

	assert.True(t, h.has("init/test.mzML"))
	assert.True(t, h.has("init/deconstruct/test.npy"))
	assert.True(t, h.has("init/deconstruct/_SUCCESS"))
	assert.True(t, h.has("init/search/test.txt"))

	h.sandbox.Reset()
	outs, err = h.orch.PrepareReference(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindSkipped, KindSkipped, KindSkipped}, kinds(outs))
	assert.Equal(t, 0, h.sandbox.Runs())
	assert.Equal(t, 1, hits)
}

func TestPrepareReference_NoURL(t *testing.T) {
	h := newHarness(t, nil)
	outs, err := h.orch.PrepareReference(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoReferenceURL)
	require.Len(t, outs, 1)
	assert.Equal(t, StageDownload, outs[0].Stage)
	assert.Equal(t, 0, h.sandbox.Runs())
}

func TestPrepareReference_ToolCommandExpanded(t *testing.T) {
	h := newHarness(t, nil)
	h.seedReference(t)

	_, err := h.orch.PrepareReference(context.Background())
	require.NoError(t, err)

	specs := h.sandbox.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"deconstruct", "/input/test.mzML", "/output"}, specs[0].Command)
	assert.True(t, specs[0].Unit.Trusted)
	assert.False(t, specs[0].Network)
	assert.Equal(t, []string{"search", "/input/test.mzML", "/output", "test"}, specs[1].Command)
}

func runEndToEnd(t *testing.T, h *harness, sub string) []Outcome {
	t.Helper()
	h.seedReference(t)
	ctx := context.Background()
	_, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)
	h.sandbox.Reset()

	outs, err := h.orch.Run(ctx, sub)
	require.NoError(t, err)
	return outs
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	outs := runEndToEnd(t, h, "sub-1")

	stages := make([]string, len(outs))
	for i, o := range outs {
		stages[i] = o.Stage
		assert.Equal(t, KindCompleted, o.Kind, o.Stage)
	}
	assert.Equal(t, []string{StageEncode, StageDecode, StageReconstruct, StageSearch, StageCleanup, StageCompare}, stages)

	// 5 次编码 + 5 次解码 + 重建 + 鉴定
	assert.Equal(t, 12, h.sandbox.Runs())

	enc, ok := h.results.get("sub-1", results.FieldEncodingRuntime)
	require.True(t, ok)
	assert.Equal(t, 1.0, enc)
	dec, ok := h.results.get("sub-1", results.FieldDecodingRuntime)
	require.True(t, ok)
	assert.Equal(t, 1.0, dec)
	ratio, _ := h.results.get("sub-1", results.FieldRatio)
	assert.InDelta(t, 0.6, ratio, 1e-9)
	acc, _ := h.results.get("sub-1", results.FieldAccuracy)
	assert.Equal(t, 75.0, acc)
	added, _ := h.results.get("sub-1", results.FieldPeptideNew)
	assert.Equal(t, 25.0, added)

	assert.True(t, h.has("sub-1/encode/test.enc"))
	assert.False(t, h.has("sub-1/decode/test.npy"), "decoded payload is deleted once consumed")
	assert.False(t, h.has("sub-1/reconstruct/new.mzML"), "reconstructed file is cleaned up")
	assert.True(t, h.has("sub-1/search/new.txt"))

	assert.Contains(t, h.units.names, "transform-sub-1:latest")
}

func TestRun_RerunPerformsNoSandboxRuns(t *testing.T) {
	for _, mode := range []string{config.IdempotencyMarker, config.IdempotencyListing} {
		t.Run(mode, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.Idempotency = mode })
			runEndToEnd(t, h, "sub-1")
			h.sandbox.Reset()

			outs, err := h.orch.Run(context.Background(), "sub-1")
			require.NoError(t, err)
			assert.Equal(t, 0, h.sandbox.Runs())
			assert.Equal(t, []Kind{KindSkipped, KindSkipped, KindSkipped, KindSkipped, KindSkipped, KindCompleted}, kinds(outs))
		})
	}
}

func TestRun_FailureStopsSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.seedReference(t)
	ctx := context.Background()
	_, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)
	h.sandbox.Reset()

	h.sandbox.Handler = func(spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
		return nil, &sandbox.ExecutionError{Unit: spec.Unit.Name, ExitCode: 2, Log: "segfault"}
	}

	outs, err := h.orch.Run(ctx, "sub-1")
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageEncode, se.Outcome.Stage)
	assert.Equal(t, KindExecution, se.Outcome.Kind)
	assert.ErrorIs(t, err, sandbox.ErrExecution)

	require.Len(t, outs, 1)
	assert.Equal(t, 1, h.sandbox.Runs(), "timed runs abort on the first failure")
	_, ok := h.results.get("sub-1", results.FieldEncodingRuntime)
	assert.False(t, ok)
	assert.False(t, h.has("sub-1/encode/_SUCCESS"))
}

func TestRun_MissingOutputIsExecutionError(t *testing.T) {
	h := newHarness(t, nil)
	h.seedReference(t)
	ctx := context.Background()
	_, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)

	tools := fakeTools(t)
	h.sandbox.Handler = func(spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
		if spec.Label == StageDecode {
			return &sandbox.RunResult{}, nil
		}
		return tools(spec)
	}

	outs, err := h.orch.EncodeDecode(ctx, "sub-1")
	require.Error(t, err)
	assert.Equal(t, []Kind{KindCompleted, KindExecution}, kinds(outs))
	assert.True(t, h.has("sub-1/encode/_SUCCESS"))
	assert.False(t, h.has("sub-1/decode/_SUCCESS"))
}

func TestRun_UnitNotAvailable(t *testing.T) {
	h := newHarness(t, nil)
	h.seedReference(t)
	ctx := context.Background()
	_, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)
	h.sandbox.Reset()

	h.units.err = errors.New("materialize: unit not available")
	outs, err := h.orch.EncodeDecode(ctx, "sub-1")
	require.Error(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, 0, h.sandbox.Runs())
}

func TestRun_ResultStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.seedReference(t)
	ctx := context.Background()
	_, err := h.orch.PrepareReference(ctx)
	require.NoError(t, err)

	h.results.err = &results.StoreError{Op: "set", Err: errors.New("database is locked")}
	outs, err := h.orch.EncodeDecode(ctx, "sub-1")
	require.Error(t, err)
	assert.Equal(t, KindResultStore, outs[0].Kind)
	// 指标写入失败时不写完成标记，下次重新执行
	assert.False(t, h.has("sub-1/encode/_SUCCESS"))
}

func TestRun_NegativeRatio(t *testing.T) {
	h := newHarness(t, nil)
	tools := fakeTools(t)
	h.sandbox.Handler = func(spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
		if spec.Label == StageEncode {
			var out string
			for _, b := range spec.Bindings {
				if b.SandboxPath == sandbox.OutputMount {
					out = b.HostPath
				}
			}
			return &sandbox.RunResult{}, os.WriteFile(filepath.Join(out, "test.enc"), make([]byte, 1200), 0644)
		}
		return tools(spec)
	}
	runEndToEnd(t, h, "sub-2")

	ratio, ok := h.results.get("sub-2", results.FieldRatio)
	require.True(t, ok)
	assert.InDelta(t, -0.2, ratio, 1e-9)
}
