package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDefinition is wrapped by every configuration error reported
	// by Validate.
	ErrInvalidDefinition = errors.New("invalid pipeline definition")
)

// Validate checks the structural integrity of a definition: unique ids,
// single emitters per artifact and resolvable source references. It does
// not look at dependency edges; the graph builder owns those.
func (d *Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...)))
	}

	if d.ID == "" {
		fail("pipeline id is empty")
	}
	if len(d.Versions) == 0 {
		fail("pipeline '%s' declares no versions", d.ID)
	}
	seenVersions := make(map[string]bool)
	for _, v := range d.Versions {
		if seenVersions[v] {
			fail("version '%s' declared twice", v)
		}
		seenVersions[v] = true
	}

	sources := make(map[string]bool)
	for _, s := range d.Sources {
		switch {
		case s.ID == "":
			fail("source with empty id")
		case sources[s.ID]:
			fail("duplicate source id '%s'", s.ID)
		case s.Backend == nil:
			fail("source '%s' has no backend", s.ID)
		}
		sources[s.ID] = true
	}

	routes := make(map[string]bool)
	emitters := make(map[string]string)
	for _, r := range d.Routes {
		if r.ID == "" || strings.Contains(r.ID, ":") {
			fail("invalid route id %q", r.ID)
			continue
		}
		if routes[r.ID] {
			fail("duplicate route id '%s'", r.ID)
		}
		routes[r.ID] = true

		for _, id := range r.Sources {
			if !sources[id] {
				fail("route '%s' references unknown source '%s'", r.ID, id)
			}
		}
		for _, a := range r.Emits {
			if a == "" || strings.Contains(a, ":") {
				fail("route '%s' emits invalid artifact id %q", r.ID, a)
				continue
			}
			if prev, ok := emitters[a]; ok {
				fail("artifact '%s' is emitted by both '%s' and '%s'", a, prev, r.ID)
				continue
			}
			emitters[a] = r.ID
		}
	}

	return errors.Join(errs...)
}
