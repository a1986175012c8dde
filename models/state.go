package models

import (
	"strconv"
	"time"
)

// PendingRequest is an unlock attempt the ad network has not confirmed yet.
type PendingRequest struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	ScriptID     string            `json:"scriptId"`
	KeyIndex     int               `json:"keyIndex"`
	RegisteredAt time.Time         `json:"registeredAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CompletionRecord is the immutable fact that a key was unlocked.
type CompletionRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ScriptID    string    `json:"scriptId"`
	KeyIndex    int       `json:"keyIndex"`
	CompletedAt time.Time `json:"completedAt"`
}

// State is the persisted relay document. The completed log and the users
// view record the same facts and must stay consistent with each other.
type State struct {
	Pending   map[string]PendingRequest     `json:"pending"`
	Completed map[string][]CompletionRecord `json:"completed"`
	Users     map[string]*UserProgress      `json:"users"`
}

// Stats are aggregate counts over a State.
type Stats struct {
	TotalUsers       int `json:"totalUsers"`
	TotalCompletions int `json:"totalCompletions"`
	PendingCount     int `json:"pendingCount"`
}

func NewState() *State {
	return &State{
		Pending:   make(map[string]PendingRequest),
		Completed: make(map[string][]CompletionRecord),
		Users:     make(map[string]*UserProgress),
	}
}

// PendingKey builds the composite "<userId>:<scriptId>:<keyIndex>" key.
func PendingKey(userID, scriptID string, keyIndex int) string {
	return userID + ":" + scriptID + ":" + strconv.Itoa(keyIndex)
}

// Normalize fills nil maps left behind by decoding a partial document.
func (s *State) Normalize() {
	if s.Pending == nil {
		s.Pending = make(map[string]PendingRequest)
	}
	if s.Completed == nil {
		s.Completed = make(map[string][]CompletionRecord)
	}
	if s.Users == nil {
		s.Users = make(map[string]*UserProgress)
	}
	for userID, p := range s.Users {
		if p == nil {
			s.Users[userID] = NewUserProgress()
			continue
		}
		if p.CompletedKeys == nil {
			p.CompletedKeys = make(map[string]KeySet)
		}
	}
}

// User returns the progress entry for userID, creating it if absent.
func (s *State) User(userID string) *UserProgress {
	p, ok := s.Users[userID]
	if !ok || p == nil {
		p = NewUserProgress()
		s.Users[userID] = p
	}
	return p
}

// CompletedKeys returns the completed set for the pair without creating entries.
func (s *State) CompletedKeys(userID, scriptID string) KeySet {
	p, ok := s.Users[userID]
	if !ok || p == nil {
		return KeySet{}
	}
	set, ok := p.CompletedKeys[scriptID]
	if !ok || set == nil {
		return KeySet{}
	}
	return set
}

func (s *State) Stats() Stats {
	st := Stats{
		TotalUsers:   len(s.Users),
		PendingCount: len(s.Pending),
	}
	for _, records := range s.Completed {
		st.TotalCompletions += len(records)
	}
	return st
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		Pending:   make(map[string]PendingRequest, len(s.Pending)),
		Completed: make(map[string][]CompletionRecord, len(s.Completed)),
		Users:     make(map[string]*UserProgress, len(s.Users)),
	}
	for k, p := range s.Pending {
		if p.Metadata != nil {
			md := make(map[string]string, len(p.Metadata))
			for mk, mv := range p.Metadata {
				md[mk] = mv
			}
			p.Metadata = md
		}
		out.Pending[k] = p
	}
	for scriptID, records := range s.Completed {
		out.Completed[scriptID] = append([]CompletionRecord(nil), records...)
	}
	for userID, p := range s.Users {
		if p == nil {
			continue
		}
		out.Users[userID] = p.clone()
	}
	return out
}
