package image

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/artifact"
	"codec-bench/internal/sandbox"
)

// makeZip 按顺序写入条目，名称以 "/" 结尾的是目录
func makeZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if content, ok := files[name]; ok {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readTar(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(b)
	}
	return out
}

func TestExtractPrefixedExact(t *testing.T) {
	files := map[string]string{
		"transform/Dockerfile":                "FROM python:3.11",
		"transform/src/codec.py":              "print('x')",
		"transform/src/__pycache__/codec.pyc": "bytecode",
		"transform/.git/HEAD":                 "ref",
		"README.md":                           "outside",
	}
	archive := makeZip(t, files,
		"transform/", "transform/Dockerfile", "transform/src/", "transform/src/codec.py",
		"transform/src/__pycache__/codec.pyc", "transform/.git/HEAD", "README.md")

	entries, err := ExtractPrefixed(archive, DefaultPrefix, DefaultExcludes)
	require.NoError(t, err)

	got := map[string]string{}
	for _, e := range entries {
		got[e.Name] = string(e.Data)
	}
	assert.Equal(t, map[string]string{
		"Dockerfile":   "FROM python:3.11",
		"src/codec.py": "print('x')",
	}, got)

	ctxTar, err := BuildContext(entries)
	require.NoError(t, err)
	assert.Equal(t, got, readTar(t, ctxTar))
}

func TestExtractPrefixedValidation(t *testing.T) {
	_, err := ExtractPrefixed(makeZip(t, map[string]string{"src/a.py": "x"}, "src/a.py"), DefaultPrefix, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ExtractPrefixed([]byte("not a zip"), DefaultPrefix, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ExtractPrefixed(makeZip(t, map[string]string{"transform/../evil": "x"}, "transform/../evil"), DefaultPrefix, nil)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestBuildRejectsBeforeRuntimeCall(t *testing.T) {
	rt := sandbox.NewMockRuntime()
	b := NewBuilder(rt, artifact.NewStore(artifact.NewMemoryStore()), artifact.NewScope("uploads"), BuilderConfig{})

	_, err := b.Build(context.Background(), "abc", makeZip(t, map[string]string{"x": "y"}, "x"), nil)
	require.Error(t, err)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Zero(t, rt.Builds)
}

func TestBuildStreamsLogInOrder(t *testing.T) {
	rt := sandbox.NewMockRuntime()
	rt.BuildLog = []string{"Step 1/2", "Step 2/2", "Successfully tagged transform-abc:latest"}
	b := NewBuilder(rt, artifact.NewStore(artifact.NewMemoryStore()), artifact.NewScope("uploads"), BuilderConfig{})

	var lines []string
	archive := makeZip(t, map[string]string{"transform/Dockerfile": "FROM scratch"}, "transform/Dockerfile")
	unit, err := b.Build(context.Background(), "abc", archive, func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, "transform-abc:latest", unit.Name)
	assert.False(t, unit.Trusted)
	assert.Equal(t, rt.BuildLog, lines)

	exists, _ := rt.Exists(context.Background(), unit.Name)
	assert.True(t, exists)
}

func TestBuildFailureIsExecutionError(t *testing.T) {
	rt := sandbox.NewMockRuntime()
	rt.BuildErr = errors.New("RUN pip install failed")
	b := NewBuilder(rt, artifact.NewStore(artifact.NewMemoryStore()), artifact.NewScope("uploads"), BuilderConfig{})

	archive := makeZip(t, map[string]string{"transform/Dockerfile": "FROM scratch"}, "transform/Dockerfile")
	_, err := b.Build(context.Background(), "abc", archive, nil)
	assert.True(t, errors.Is(err, sandbox.ErrExecution))
}

func TestBuildFromUpload(t *testing.T) {
	store := artifact.NewStore(artifact.NewMemoryStore())
	uploads := artifact.NewScope("submission-uploads")
	archive := makeZip(t, map[string]string{"transform/Dockerfile": "FROM scratch"}, "transform/Dockerfile")
	require.NoError(t, store.Put(context.Background(), uploads, UploadName("k1"), archive, "application/zip"))

	b := NewBuilder(sandbox.NewMockRuntime(), store, uploads, BuilderConfig{})
	unit, err := b.BuildFromUpload(context.Background(), "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, UnitName("k1"), unit.Name)

	_, err = b.BuildFromUpload(context.Background(), "missing", nil)
	assert.True(t, artifact.IsNotFound(err))
}

func TestPublishAndMaterialize(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewStore(artifact.NewMemoryStore())
	scope := artifact.NewScope("container-bucket")

	builder := sandbox.NewMockRuntime()
	b := NewBuilder(builder, store, artifact.NewScope("uploads"), BuilderConfig{})
	archive := makeZip(t, map[string]string{"transform/Dockerfile": "FROM scratch"}, "transform/Dockerfile")
	unit, err := b.Build(ctx, "abc", archive, nil)
	require.NoError(t, err)

	require.NoError(t, NewDistributor(builder, store, scope).Publish(ctx, unit))
	_, err = store.Size(ctx, scope, "transform-abc:latest.tar")
	require.NoError(t, err)

	// 另一台 Worker：本地没有，从发布归档导入
	worker := sandbox.NewMockRuntime()
	d := NewDistributor(worker, store, scope)
	require.NoError(t, d.Materialize(ctx, unit))
	assert.Equal(t, 1, worker.Imports)

	// 已在本地时不再导入
	require.NoError(t, d.Materialize(ctx, unit))
	assert.Equal(t, 1, worker.Imports)
}

func TestMaterializeTrustedPullsUntrustedFails(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewStore(artifact.NewMemoryStore())
	rt := sandbox.NewMockRuntime("ghcr.io/tools/comet:latest")
	d := NewDistributor(rt, store, artifact.NewScope("container-bucket"))

	require.NoError(t, d.Materialize(ctx, sandbox.Unit{Name: "ghcr.io/tools/comet:latest", Trusted: true}))
	assert.Equal(t, 1, rt.Pulls)

	err := d.Materialize(ctx, sandbox.Unit{Name: "transform-zzz:latest"})
	assert.True(t, errors.Is(err, ErrImageNotAvailable))

	err = d.Materialize(ctx, sandbox.Unit{Name: "ghcr.io/tools/unknown:latest", Trusted: true})
	assert.True(t, errors.Is(err, ErrImageNotAvailable))
	assert.Equal(t, 1, rt.Pulls)
}

func TestValidateDoesNotCallRuntime(t *testing.T) {
	rt := sandbox.NewMockRuntime()
	b := NewBuilder(rt, artifact.NewStore(artifact.NewMemoryStore()), artifact.NewScope("uploads"), BuilderConfig{})

	assert.NoError(t, b.Validate(makeZip(t, map[string]string{"transform/Dockerfile": "FROM scratch"}, "transform/Dockerfile")))
	assert.ErrorIs(t, b.Validate(makeZip(t, map[string]string{"src/main.py": "x"}, "src/main.py")), ErrValidation)
	assert.Zero(t, rt.Builds)
}
