package lines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/pipeline"
)

func TestParser(t *testing.T) {
	file := pipeline.NewFileContext("v1", "a.txt")

	rows, err := pipeline.Collect(NewParser(&Options{})(context.Background(), file, "a\n\nb\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Row{{"line": "a"}, {"line": "b"}}, rows)

	rows, err = pipeline.Collect(NewParser(&Options{Field: "raw", KeepBlank: true, WithNumber: true})(context.Background(), file, "a\n\nb"))
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Row{
		{"raw": "a", "line_number": 1},
		{"raw": "", "line_number": 2},
		{"raw": "b", "line_number": 3},
	}, rows)
}

func TestParser_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipeline.Collect(NewParser(&Options{})(ctx, pipeline.NewFileContext("v1", "a"), "x"))
	assert.ErrorIs(t, err, context.Canceled)
}
