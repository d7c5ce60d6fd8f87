package loader

import (
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
)

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// sortedAttributeNames orders attributes by their position in the source.
func sortedAttributeNames(attrs hcl.Attributes) []string {
	names := sortedKeys(attrs)
	slices.SortStableFunc(names, func(a, b string) int {
		return attrs[a].Range.Start.Byte - attrs[b].Range.Start.Byte
	})
	return names
}
