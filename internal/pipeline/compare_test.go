package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/artifact"
	"codec-bench/internal/image"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
)

func TestComputeRatio(t *testing.T) {
	assert.InDelta(t, 0.6, ComputeRatio(1000, 400, nil, nil), 1e-9)
	assert.InDelta(t, -0.2, ComputeRatio(1000, 1200, nil, nil), 1e-9)
	assert.Equal(t, 0.0, ComputeRatio(1000, 1000, nil, nil))

	assert.True(t, math.IsNaN(ComputeRatio(0, 10, errors.New("unreadable"), nil)))
	assert.True(t, math.IsNaN(ComputeRatio(1000, 0, nil, errors.New("unreadable"))))
	assert.True(t, math.IsNaN(ComputeRatio(0, 0, nil, nil)))
}

const identifications = "CometVersion 2024.01 rev. 0\tsample.mzML\n" +
	"scan\tnum\tcharge\texp_neutral_mass\tplain_peptide\tprotein\n"

func tsv(peptides ...string) string {
	var b strings.Builder
	b.WriteString(identifications)
	for i, p := range peptides {
		fmt.Fprintf(&b, "%d\t1\t2\t1000.0\t%s\tsp|P1\n", i+1, p)
	}
	return b.String()
}

func TestParsePeptides(t *testing.T) {
	set, err := ParsePeptides(strings.NewReader(tsv("PEPTIDE", "KLMN", "PEPTIDE")))
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "KLMN")

	_, err = ParsePeptides(strings.NewReader("a\tb\n1\t2\n"))
	assert.Error(t, err)
}

func TestParsePeptides_FallbackColumn(t *testing.T) {
	set, err := ParsePeptides(strings.NewReader("scan\tPeptide\n1\tAAA\n2\tBBB\n"))
	require.NoError(t, err)
	assert.Len(t, set, 2)
}

func TestComparePeptides(t *testing.T) {
	set := func(ps ...string) map[string]struct{} {
		m := map[string]struct{}{}
		for _, p := range ps {
			m[p] = struct{}{}
		}
		return m
	}

	cmp, err := ComparePeptides(set("A", "B", "C", "D"), set("A", "B", "C", "E"))
	require.NoError(t, err)
	assert.Equal(t, 75.0, cmp.Preserved)
	assert.Equal(t, 25.0, cmp.Missed)
	assert.Equal(t, 25.0, cmp.Added)
	assert.Equal(t, 4, cmp.Baseline)

	cmp, err = ComparePeptides(set("A"), set())
	require.NoError(t, err)
	assert.Equal(t, 0.0, cmp.Preserved)
	assert.Equal(t, 100.0, cmp.Missed)

	_, err = ComparePeptides(set(), set("A"))
	assert.ErrorIs(t, err, ErrNoBaseline)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, KindCompleted},
		{context.Canceled, KindCanceled},
		{&image.ValidationError{Reason: "x"}, KindValidation},
		{fmt.Errorf("wrap: %w", image.ErrImageNotAvailable), KindImageNotAvailable},
		{&sandbox.ExecutionError{Unit: "u", ExitCode: 1}, KindExecution},
		{fmt.Errorf("x: %w", results.ErrResultStore), KindResultStore},
		{&artifact.StorageError{Op: "get", Err: artifact.ErrNotFound}, KindStorage},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, classify(c.err), fmt.Sprint(c.err))
	}
}
