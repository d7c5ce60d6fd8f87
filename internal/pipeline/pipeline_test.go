package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBackend struct{}

func (nopBackend) ListFiles(context.Context, string) ([]FileContext, error) { return nil, nil }
func (nopBackend) ReadFile(context.Context, FileContext) (string, error)   { return "", nil }
func (nopBackend) GetMetadata(context.Context, FileContext) (Metadata, error) {
	return Metadata{}, nil
}

func TestNewFileContext(t *testing.T) {
	tests := []struct {
		name string
		path string
		want FileContext
	}{
		{
			name: "root file",
			path: "UnicodeData.txt",
			want: FileContext{Version: "16.0.0", Dir: "", Path: "UnicodeData.txt", Name: "UnicodeData.txt", Ext: ".txt"},
		},
		{
			name: "nested file",
			path: "extracted/DerivedAge.txt",
			want: FileContext{Version: "16.0.0", Dir: "extracted", Path: "extracted/DerivedAge.txt", Name: "DerivedAge.txt", Ext: ".txt"},
		},
		{
			name: "leading slash and dot segments are normalised",
			path: "/auxiliary/./GraphemeBreakTest",
			want: FileContext{Version: "16.0.0", Dir: "auxiliary", Path: "auxiliary/GraphemeBreakTest", Name: "GraphemeBreakTest", Ext: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFileContext("16.0.0", tt.path))
		})
	}
}

func TestParseDependency(t *testing.T) {
	d, err := ParseDependency("artifact:names")
	require.NoError(t, err)
	assert.Equal(t, Dependency{Kind: ArtifactDependency, ID: "names"}, d)
	assert.Equal(t, "artifact:names", d.String())

	d, err = ParseDependency(" route:blocks ")
	require.NoError(t, err)
	assert.Equal(t, Dependency{Kind: RouteDependency, ID: "blocks"}, d)

	for _, bad := range []string{"names", "artifact:", "file:x", "route:a:b"} {
		_, err := ParseDependency(bad)
		assert.Error(t, err, bad)
	}

	assert.Panics(t, func() { MustParseDependencies("nope") })
}

func TestValidate(t *testing.T) {
	valid := func() *Definition {
		return &Definition{
			ID:       "ucd",
			Versions: []string{"16.0.0"},
			Sources:  []Source{{ID: "mem", Backend: nopBackend{}}},
			Routes: []Route{
				{ID: "a", Emits: []string{"names"}},
				{ID: "b", Sources: []string{"mem"}, DependsOn: MustParseDependencies("artifact:names")},
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(d *Definition)
		errMsg string
	}{
		{"duplicate route", func(d *Definition) { d.Routes = append(d.Routes, Route{ID: "a"}) }, "duplicate route id 'a'"},
		{"duplicate source", func(d *Definition) { d.Sources = append(d.Sources, Source{ID: "mem", Backend: nopBackend{}}) }, "duplicate source id 'mem'"},
		{"unknown source", func(d *Definition) { d.Routes[1].Sources = []string{"nope"} }, "unknown source 'nope'"},
		{"double emitter", func(d *Definition) { d.Routes[1].Emits = []string{"names"} }, "emitted by both 'a' and 'b'"},
		{"no versions", func(d *Definition) { d.Versions = nil }, "declares no versions"},
		{"colon in route id", func(d *Definition) { d.Routes[0].ID = "route:a" }, "invalid route id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := d.Validate()
			require.ErrorIs(t, err, ErrInvalidDefinition)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestIdentityResolver(t *testing.T) {
	entries, err := IdentityResolver(context.Background(), nil, RowsOf(Row{"codepoint": "0041", "value": "A"}))
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"codepoint": "0041", "value": "A"}}, entries)
}

func TestSourcesFor(t *testing.T) {
	d := &Definition{Sources: []Source{{ID: "a"}, {ID: "b"}}}
	assert.Len(t, d.SourcesFor(Route{}), 2)
	got := d.SourcesFor(Route{Sources: []string{"b"}})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}
