package rows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/pipeline"
)

func apply(t *testing.T, tr pipeline.Transform, row pipeline.Row) []pipeline.Row {
	t.Helper()
	out, err := tr(context.Background(), row)
	require.NoError(t, err)
	return out
}

func TestTrim(t *testing.T) {
	row := pipeline.Row{"a": " x ", "b": " y", "n": 1}
	assert.Equal(t, []pipeline.Row{{"a": "x", "b": "y", "n": 1}}, apply(t, Trim(&TrimOptions{}), row))
	assert.Equal(t, []pipeline.Row{{"a": "x", "b": " y", "n": 1}}, apply(t, Trim(&TrimOptions{Fields: []string{"a"}}), row))
	assert.Equal(t, " x ", row["a"], "input row is not mutated")
}

func TestRename(t *testing.T) {
	tr, err := Rename(&RenameOptions{Fields: map[string]string{"cp": "codepoint"}})
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Row{{"codepoint": "0041", "v": "A"}}, apply(t, tr, pipeline.Row{"cp": "0041", "v": "A"}))

	_, err = Rename(&RenameOptions{Fields: map[string]string{"a": "x", "b": "x"}})
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	tr, err := Split(&SplitOptions{Field: "aliases", Separator: "|", Into: "alias"})
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Row{
		{"cp": "0041", "aliases": "A|| a", "alias": "A"},
		{"cp": "0041", "aliases": "A|| a", "alias": "a"},
	}, apply(t, tr, pipeline.Row{"cp": "0041", "aliases": "A|| a"}))

	_, err = tr(context.Background(), pipeline.Row{"aliases": 3})
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	equals := "Lu"
	tr, err := Filter(&FilterOptions{Field: "category", Equals: &equals})
	require.NoError(t, err)
	assert.Len(t, apply(t, tr, pipeline.Row{"category": "Lu"}), 1)
	assert.Empty(t, apply(t, tr, pipeline.Row{"category": "Ll"}))

	tr, err = Filter(&FilterOptions{Field: "cp", Match: "^00[0-7]", Negate: true})
	require.NoError(t, err)
	assert.Empty(t, apply(t, tr, pipeline.Row{"cp": "0041"}))
	assert.Len(t, apply(t, tr, pipeline.Row{"cp": "00E9"}), 1)

	_, err = Filter(&FilterOptions{Field: "cp"})
	assert.Error(t, err)
	_, err = Filter(&FilterOptions{Field: "cp", Match: "("})
	assert.Error(t, err)
}
