// Package actions holds the catalog of race-mutating action kinds. The
// catalog is an open registry: the dispatch layer treats any registered name
// as a valid race action, so new kinds can be added without touching the
// connection protocol.
package actions

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/liverace/backend/internal/model"
)

// Race status values the built-in actions care about.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
)

// Func applies one mutation kind to a race's state. It returns the text of a
// system chat notice to broadcast (empty for none). Validation failures are
// returned as *model.SafeError; the state must be left unchanged on error.
type Func func(st *model.RaceState, actor model.Actor, data json.RawMessage) (notice string, err error)

var (
	mu      sync.RWMutex
	catalog = map[string]Func{}
)

// Register adds an action kind to the catalog. Registering a duplicate name
// panics; the catalog is assembled at init time.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := catalog[name]; ok {
		panic(fmt.Sprintf("actions: duplicate registration for %q", name))
	}
	catalog[name] = fn
}

// Lookup returns the handler for an action kind.
func Lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := catalog[name]
	return fn, ok
}

// Registered reports whether an action kind is in the catalog.
func Registered(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Names returns the registered action kinds in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("join", join)
	Register("leave", leave)
	Register("ready", ready)
	Register("unready", unready)
	Register("done", done)
	Register("undone", undone)
}

func join(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	if st.Status != StatusOpen {
		return "", model.Safe("This race is not open for entry.")
	}
	name := actor.DisplayName()
	if _, ok := st.Entrants[name]; ok {
		return "", model.Safe("You have already joined this race.")
	}
	st.Entrants[name] = model.Entrant{Name: name, Status: model.EntrantStatusJoined}
	return name + " joins the race.", nil
}

func leave(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	if st.Status != StatusOpen {
		return "", model.Safe("You may only leave a race before it starts.")
	}
	name := actor.DisplayName()
	if _, ok := st.Entrants[name]; !ok {
		return "", model.Safe("You are not an entrant in this race.")
	}
	delete(st.Entrants, name)
	return name + " leaves the race.", nil
}

func ready(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	name := actor.DisplayName()
	entrant, ok := st.Entrants[name]
	if !ok {
		return "", model.Safe("You are not an entrant in this race.")
	}
	if entrant.Status != model.EntrantStatusJoined {
		return "", model.Safe("You are already ready.")
	}
	entrant.Status = model.EntrantStatusReady
	st.Entrants[name] = entrant
	return name + " is ready!", nil
}

func unready(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	name := actor.DisplayName()
	entrant, ok := st.Entrants[name]
	if !ok {
		return "", model.Safe("You are not an entrant in this race.")
	}
	if entrant.Status != model.EntrantStatusReady {
		return "", model.Safe("You are not ready.")
	}
	entrant.Status = model.EntrantStatusJoined
	st.Entrants[name] = entrant
	return name + " is not ready.", nil
}

func done(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	if st.Status != StatusInProgress {
		return "", model.Safe("This race has not started yet.")
	}
	name := actor.DisplayName()
	entrant, ok := st.Entrants[name]
	if !ok {
		return "", model.Safe("You are not an entrant in this race.")
	}
	if entrant.Status == model.EntrantStatusDone {
		return "", model.Safe("You have already finished this race.")
	}
	entrant.Status = model.EntrantStatusDone
	st.Entrants[name] = entrant
	return name + " has finished.", nil
}

func undone(st *model.RaceState, actor model.Actor, _ json.RawMessage) (string, error) {
	if st.Status != StatusInProgress {
		return "", model.Safe("This race has not started yet.")
	}
	name := actor.DisplayName()
	entrant, ok := st.Entrants[name]
	if !ok {
		return "", model.Safe("You are not an entrant in this race.")
	}
	if entrant.Status != model.EntrantStatusDone {
		return "", model.Safe("You have not finished this race.")
	}
	entrant.Status = model.EntrantStatusJoined
	st.Entrants[name] = entrant
	return name + " has been undone.", nil
}
