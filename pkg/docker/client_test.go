package docker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONStreamSplitsLines(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM python:3.11\n"}
{"stream":" ---> abc\nStep 2/2 : COPY . /app\n"}
{"status":"ignored"}
{"stream":"Successfully built abc\n"}`

	var lines []string
	err := readJSONStream(strings.NewReader(stream), func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Step 1/2 : FROM python:3.11",
		" ---> abc",
		"Step 2/2 : COPY . /app",
		"Successfully built abc",
	}, lines)
}

func TestReadJSONStreamError(t *testing.T) {
	stream := `{"stream":"Step 1/1 : RUN false\n"}
{"errorDetail":{"message":"The command returned a non-zero code: 1"},"error":"The command returned a non-zero code: 1"}`

	var lines []string
	err := readJSONStream(strings.NewReader(stream), func(l string) { lines = append(lines, l) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero code")
	assert.Equal(t, []string{"Step 1/1 : RUN false"}, lines)
}

func TestReadJSONStreamMalformed(t *testing.T) {
	err := readJSONStream(strings.NewReader(`{"stream":`), nil)
	assert.Error(t, err)
}
