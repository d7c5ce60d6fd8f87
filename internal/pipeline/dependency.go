package pipeline

import (
	"fmt"
	"strings"
)

// DependencyKind distinguishes artifact and route dependencies.
type DependencyKind string

const (
	// ArtifactDependency waits for the route emitting the artifact.
	ArtifactDependency DependencyKind = "artifact"
	// RouteDependency waits for the completion of the named route.
	RouteDependency DependencyKind = "route"
)

// Dependency is a parsed `artifact:X` or `route:Y` reference.
type Dependency struct {
	Kind DependencyKind
	ID   string
}

// ParseDependency parses the "<kind>:<id>" form.
func ParseDependency(s string) (Dependency, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return Dependency{}, fmt.Errorf("invalid dependency %q: expected 'artifact:<id>' or 'route:<id>'", s)
	}
	switch DependencyKind(kind) {
	case ArtifactDependency, RouteDependency:
	default:
		return Dependency{}, fmt.Errorf("invalid dependency %q: unknown kind '%s'", s, kind)
	}
	if strings.Contains(id, ":") {
		return Dependency{}, fmt.Errorf("invalid dependency %q: id must not contain ':'", s)
	}
	return Dependency{Kind: DependencyKind(kind), ID: id}, nil
}

// MustParseDependencies parses a list of dependency strings and panics on
// malformed input. It is meant for definitions written in Go.
func MustParseDependencies(specs ...string) []Dependency {
	deps := make([]Dependency, 0, len(specs))
	for _, s := range specs {
		d, err := ParseDependency(s)
		if err != nil {
			panic(err)
		}
		deps = append(deps, d)
	}
	return deps
}

// String returns the "<kind>:<id>" form.
func (d Dependency) String() string {
	return string(d.Kind) + ":" + d.ID
}
