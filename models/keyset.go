package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"adunlock/utils"
)

// KeySet is a set of normalized key indexes.
// It is stored as a sorted JSON array.
type KeySet map[int]struct{}

func NewKeySet(keys ...int) KeySet {
	set := make(KeySet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func (s KeySet) Has(k int) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k and reports whether it was absent.
func (s KeySet) Add(k int) bool {
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// Sorted returns the members in ascending order. Never nil.
func (s KeySet) Sorted() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (s KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts numbers or numeric strings; repeated members collapse.
func (s *KeySet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = KeySet{}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	set := make(KeySet, len(raw))
	for i, v := range raw {
		k, err := utils.NormalizeKeyIndex(v)
		if err != nil {
			return fmt.Errorf("key set element %d: %w", i, err)
		}
		set[k] = struct{}{}
	}
	*s = set
	return nil
}
