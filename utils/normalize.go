package utils

import (
	"reflect"
	"strings"
)

// NormalizeDTO trims string fields on a pointer-to-struct DTO.
func NormalizeDTO(dto any) {
	v := reflect.ValueOf(dto)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return
	}
	s := v.Elem()
	if s.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

// FieldAliases maps a canonical field name to the names it may arrive under,
// in order of preference.
type FieldAliases map[string][]string

// CallbackAliases are the names ad networks use for the unlock triple.
var CallbackAliases = FieldAliases{
	"userId":   {"userId", "user_id", "userid", "uid", "user", "sub_id", "subid"},
	"scriptId": {"scriptId", "script_id", "scriptid", "script", "sid"},
	"keyIndex": {"keyIndex", "key_index", "keyindex", "keyIdx", "key", "k"},
}

// Normalize resolves every canonical field through lookup, taking the first
// alias with a non-blank value. Canonical names without a value are omitted.
func (a FieldAliases) Normalize(lookup func(name string) string) map[string]string {
	out := make(map[string]string, len(a))
	for canonical, aliases := range a {
		for _, alias := range aliases {
			if v := strings.TrimSpace(lookup(alias)); v != "" {
				out[canonical] = v
				break
			}
		}
	}
	return out
}
