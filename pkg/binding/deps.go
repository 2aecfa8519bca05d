package binding

import (
	"fmt"
	"reflect"
	"strings"
)

// depsEqual compares two dependency lists element by element.
func depsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameValue is a shallow comparison. Comparable values compare with ==.
// Slices, maps, funcs and pointers compare by identity, so mutating a
// slice in place and passing it again is not a change.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}

	if !ta.Comparable() {
		return false
	}
	return equalNoPanic(a, b)
}

// equalNoPanic guards against structs holding interface fields whose
// dynamic values are not comparable.
func equalNoPanic(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// Key joins parts into a namespaced cache key, for example
// Key("shop", 42, "products") == "shop:42:products". Bindings sharing a
// store should derive keys from every parameter their fetcher captures.
func Key(parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}
