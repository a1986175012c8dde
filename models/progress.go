package models

import "time"

// UserProgress is the per-user view of completed keys.
type UserProgress struct {
	CompletedKeys map[string]KeySet `json:"completedKeys"`
	LastActive    time.Time         `json:"lastActive"`
}

func NewUserProgress() *UserProgress {
	return &UserProgress{CompletedKeys: make(map[string]KeySet)}
}

// Keys returns the set for scriptID, creating it if absent.
func (p *UserProgress) Keys(scriptID string) KeySet {
	if p.CompletedKeys == nil {
		p.CompletedKeys = make(map[string]KeySet)
	}
	set, ok := p.CompletedKeys[scriptID]
	if !ok || set == nil {
		set = KeySet{}
		p.CompletedKeys[scriptID] = set
	}
	return set
}

func (p *UserProgress) clone() *UserProgress {
	out := &UserProgress{
		CompletedKeys: make(map[string]KeySet, len(p.CompletedKeys)),
		LastActive:    p.LastActive,
	}
	for scriptID, set := range p.CompletedKeys {
		out.CompletedKeys[scriptID] = set.Clone()
	}
	return out
}
