package ai

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r io.Reader) ([]string, DecodeStats, error) {
	t.Helper()
	var got []string
	stats, err := DecodeSSE(r, func(delta string) bool {
		got = append(got, delta)
		return true
	})
	return got, stats, err
}

func TestDecodeSSEExtractsDeltasInOrder(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`: keep-alive`,
		`event: ping`,
		`data: not json`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
	}, "\n")

	got, stats, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
	assert.Equal(t, DecodeStats{Deltas: 3, Malformed: 1}, stats)
}

func TestDecodeSSEIgnoresSurroundingWhitespace(t *testing.T) {
	body := "   data:   {\"choices\":[{\"delta\":{\"content\":\" a \"}}]}   \r\n" +
		"\tdata:[DONE]\r\n"

	got, _, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{" a "}, got)
}

func TestDecodeSSEHandlesLinesSplitAcrossReads(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"你好"}}]}` + "\n" +
		`data: {"choices":[{"delta":{"content":"世界"}}]}` + "\n"

	got, stats, err := collect(t, iotest.OneByteReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, []string{"你好", "世界"}, got)
	assert.Zero(t, stats.Malformed)
}

func TestDecodeSSEEmptyChoicesAreSkipped(t *testing.T) {
	body := "data: {\"choices\":[]}\ndata: {}\ndata: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n"

	got, stats, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, DecodeStats{}, stats)
}

func TestDecodeSSEStopsWhenEmitDeclines(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"

	var got []string
	stats, err := DecodeSSE(strings.NewReader(body), func(delta string) bool {
		got = append(got, delta)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, stats.Deltas)
}

func TestDecodeSSEReturnsReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n"),
		iotest.ErrReader(boom),
	)

	got, _, err := collect(t, r)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"partial"}, got)
}
