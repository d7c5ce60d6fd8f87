package registry

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

var (
	hclExpressionType = reflect.TypeOf((*hcl.Expression)(nil)).Elem()
	hclBodyType       = reflect.TypeOf((*hcl.Body)(nil)).Elem()
	ctyValueType      = reflect.TypeOf(cty.Value{})
)

// ValidateRegistry checks that every options struct can be decoded by
// gohcl: NewOptions must return a pointer to a struct whose `hcl` tagged
// fields have a type cty can convert into.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	check := func(kind, name string, newOptions func() any) {
		if newOptions == nil {
			return
		}
		errs = append(errs, validateOptions(kind, name, newOptions())...)
	}
	for _, name := range slices.Sorted(maps.Keys(r.parsers)) {
		check("parser", name, r.parsers[name].NewOptions)
		if r.parsers[name].Build == nil {
			errs = append(errs, fmt.Sprintf("parser '%s': no Build function", name))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.transforms)) {
		check("transform", name, r.transforms[name].NewOptions)
		if r.transforms[name].Build == nil {
			errs = append(errs, fmt.Sprintf("transform '%s': no Build function", name))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.resolvers)) {
		check("resolver", name, r.resolvers[name].NewOptions)
		if r.resolvers[name].Build == nil {
			errs = append(errs, fmt.Sprintf("resolver '%s': no Build function", name))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.sources)) {
		check("source", name, r.sources[name].NewOptions)
		if r.sources[name].Build == nil {
			errs = append(errs, fmt.Sprintf("source '%s': no Build function", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validated.", "parsers", len(r.parsers), "transforms", len(r.transforms), "resolvers", len(r.resolvers), "sources", len(r.sources))
	return nil
}

func validateOptions(kind, name string, opts any) []string {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return []string{fmt.Sprintf("%s '%s': options must be a pointer to a struct, got %T", kind, name, opts)}
	}

	var errs []string
	t := v.Elem().Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("hcl")
		if tag == "" || !field.IsExported() {
			continue
		}
		tagName, tagKind, _ := strings.Cut(tag, ",")
		if tagKind == "remain" || tagKind == "block" || tagKind == "label" {
			continue
		}
		if field.Type == hclExpressionType || field.Type == hclBodyType || field.Type == ctyValueType {
			continue
		}
		if field.Type.Kind() == reflect.Interface {
			errs = append(errs, fmt.Sprintf("%s '%s', option '%s': interface type %s cannot be decoded", kind, name, tagName, field.Type))
			continue
		}
		if _, err := gocty.ImpliedType(reflect.Zero(field.Type).Interface()); err != nil {
			errs = append(errs, fmt.Sprintf("%s '%s', option '%s': could not imply cty type from Go field type %s: %v", kind, name, tagName, field.Type, err))
		}
	}
	return errs
}
