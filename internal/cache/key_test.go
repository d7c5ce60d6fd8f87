package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_RoundTrip(t *testing.T) {
	keys := []Key{
		{RouteID: "names", Version: "16.0.0", InputHash: "abc"},
		{RouteID: "names", Version: "16.0.0", InputHash: "abc", ArtifactHashes: map[string]string{}},
		{RouteID: "r|1", Version: "v=1,2", InputHash: "%zz", ArtifactHashes: map[string]string{
			"names":         "h1",
			"route:blocks":  "h2",
			"weird id,=|&?": "h 3",
		}},
		{},
	}
	for _, k := range keys {
		t.Run(k.String(), func(t *testing.T) {
			parsed, err := ParseKey(k.String())
			require.NoError(t, err)
			assert.True(t, parsed.Equal(k), "round trip of %q gave %#v", k.String(), parsed)
			assert.Equal(t, k.String(), parsed.String())
		})
	}
}

func TestKey_EqualIgnoresArtifactOrder(t *testing.T) {
	a := map[string]string{}
	a["names"] = "h1"
	a["blocks"] = "h2"
	a["aliases"] = "h3"

	b := map[string]string{}
	b["aliases"] = "h3"
	b["blocks"] = "h2"
	b["names"] = "h1"

	k1 := Key{RouteID: "r", Version: "1", InputHash: "x", ArtifactHashes: a}
	k2 := Key{RouteID: "r", Version: "1", InputHash: "x", ArtifactHashes: b}
	assert.True(t, k1.Equal(k2))
	assert.Equal(t, k1.String(), k2.String())
	assert.Equal(t, k1.Digest(), k2.Digest())
	assert.Equal(t, "v1|r|1|x|aliases=h3,blocks=h2,names=h1", k1.String())

	t.Run("any differing component breaks equality", func(t *testing.T) {
		others := []Key{
			{RouteID: "other", Version: "1", InputHash: "x", ArtifactHashes: a},
			{RouteID: "r", Version: "2", InputHash: "x", ArtifactHashes: a},
			{RouteID: "r", Version: "1", InputHash: "y", ArtifactHashes: a},
			{RouteID: "r", Version: "1", InputHash: "x", ArtifactHashes: map[string]string{"names": "h1"}},
			{RouteID: "r", Version: "1", InputHash: "x", ArtifactHashes: map[string]string{"names": "changed", "blocks": "h2", "aliases": "h3"}},
		}
		for _, o := range others {
			assert.False(t, k1.Equal(o), o.String())
		}
	})
}

func TestParseKey_Errors(t *testing.T) {
	for _, bad := range []string{"", "v2|a|b|c|", "v1|a|b", "v1|a|b|c|noequals", "v1|%zz|b|c|"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestKey_TextMarshaling(t *testing.T) {
	k := Key{RouteID: "r", Version: "1", InputHash: "x", ArtifactHashes: map[string]string{"a": "1"}}
	text, err := k.MarshalText()
	require.NoError(t, err)

	var decoded Key
	require.NoError(t, decoded.UnmarshalText(text))
	assert.True(t, decoded.Equal(k))
}

func TestHashing(t *testing.T) {
	t.Run("input hash is order independent", func(t *testing.T) {
		h1 := InputHash(map[string]string{"a.txt": HashContent("1"), "b.txt": HashContent("2")})
		h2 := InputHash(map[string]string{"b.txt": HashContent("2"), "a.txt": HashContent("1")})
		assert.Equal(t, h1, h2)
		assert.NotEqual(t, h1, InputHash(map[string]string{"a.txt": HashContent("2"), "b.txt": HashContent("1")}))
		assert.NotEqual(t, InputHash(nil), h1)
	})

	t.Run("value hash is canonical", func(t *testing.T) {
		h1, err := HashValue(map[string]any{"a": 1, "b": []string{"x"}})
		require.NoError(t, err)
		h2, err := HashValue(map[string]any{"b": []string{"x"}, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)

		_, err = HashValue(make(chan int))
		assert.Error(t, err)
	})
}
