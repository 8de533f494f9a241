// Package model defines the domain types shared across the server.
package model

import (
	"encoding/json"
	"time"
)

// EntrantStatus represents the status of one entrant within a race.
type EntrantStatus string

const (
	EntrantStatusJoined EntrantStatus = "joined"
	EntrantStatusReady  EntrantStatus = "ready"
	EntrantStatusDone   EntrantStatus = "done"
)

// Entrant is one participant recorded in the race state.
type Entrant struct {
	Name   string        `json:"name"`
	Status EntrantStatus `json:"status"`
}

// RaceState is the structured state carried inside a race snapshot.
type RaceState struct {
	Status   string             `json:"status"`
	Goal     string             `json:"goal,omitempty"`
	Info     string             `json:"info,omitempty"`
	Entrants map[string]Entrant `json:"entrants"`
}

// Clone returns a deep copy of the state so handlers can mutate freely.
func (s RaceState) Clone() RaceState {
	out := s
	out.Entrants = make(map[string]Entrant, len(s.Entrants))
	for k, v := range s.Entrants {
		out.Entrants[k] = v
	}
	return out
}

// RaceSnapshot is an immutable view of a race at one version. Every accepted
// mutation yields a new snapshot with a strictly greater Version; the renders
// payload is produced elsewhere and versioned independently.
type RaceSnapshot struct {
	ID             string          `json:"id"`
	CategoryID     string          `json:"categoryId"`
	State          json.RawMessage `json:"state"`
	Version        int64           `json:"version"`
	Renders        json.RawMessage `json:"renders"`
	RendersVersion int64           `json:"rendersVersion"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DecodeState parses the snapshot's raw state payload.
func (s *RaceSnapshot) DecodeState() (RaceState, error) {
	st := RaceState{Entrants: map[string]Entrant{}}
	if len(s.State) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(s.State, &st); err != nil {
		return RaceState{}, err
	}
	if st.Entrants == nil {
		st.Entrants = map[string]Entrant{}
	}
	return st, nil
}

// ChatEntry is one chat message in a race's history. Entries are immutable
// once created; IsSystem marks automated notices as opposed to user messages.
type ChatEntry struct {
	ID       string    `json:"id"`
	RaceID   string    `json:"-"`
	Author   string    `json:"author"`
	IsBot    bool      `json:"is_bot"`
	Message  string    `json:"message"`
	IsSystem bool      `json:"is_system"`
	PostedAt time.Time `json:"posted_at"`
}
