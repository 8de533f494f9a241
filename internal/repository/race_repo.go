// Package repository provides the SQLite-backed race aggregate store and bot
// registry.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liverace/backend/internal/actions"
	"github.com/liverace/backend/internal/broadcast"
	"github.com/liverace/backend/internal/model"
)

// RaceStore is the race aggregate store. Accepted mutations produce a new
// snapshot with a strictly increasing version and publish the resulting group
// events; concurrent mutations against the same database are serialized here.
type RaceStore struct {
	db     *sql.DB
	groups *broadcast.Registry

	// mu serializes ApplyAction/UpdateRenders so version bumps and event
	// publication happen in a single ordered sequence.
	mu sync.Mutex
}

// NewRaceStore creates a RaceStore publishing to the given group registry.
func NewRaceStore(db *sql.DB, groups *broadcast.Registry) *RaceStore {
	return &RaceStore{db: db, groups: groups}
}

// Create inserts a new race with an initial open state.
func (s *RaceStore) Create(ctx context.Context, id, categoryID, goal string) (*model.RaceSnapshot, error) {
	st := model.RaceState{
		Status:   actions.StatusOpen,
		Goal:     goal,
		Entrants: map[string]model.Entrant{},
	}
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize race state: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO races (id, category_id, state, version, renders, renders_version, created_at, updated_at)
		VALUES (?, ?, ?, 1, '{}', 1, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, categoryID, string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("failed to create race: %w", err)
	}

	return s.Load(ctx, id)
}

// Load retrieves the current snapshot of a race.
func (s *RaceStore) Load(ctx context.Context, id string) (*model.RaceSnapshot, error) {
	query := `
		SELECT id, category_id, state, version, renders, renders_version, created_at, updated_at
		FROM races
		WHERE id = ?
	`

	snap := &model.RaceSnapshot{}
	var state, renders string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&snap.ID,
		&snap.CategoryID,
		&state,
		&snap.Version,
		&renders,
		&snap.RendersVersion,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrRaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load race: %w", err)
	}

	snap.State = json.RawMessage(state)
	snap.Renders = json.RawMessage(renders)
	return snap, nil
}

// ChatHistory returns a race's chat entries in chronological order. A race
// with no entries (or no longer existing) yields an empty list, not an error.
func (s *RaceStore) ChatHistory(ctx context.Context, raceID string) ([]model.ChatEntry, error) {
	query := `
		SELECT m.id, m.race_id, m.author, m.is_bot, m.message, m.is_system, m.posted_at
		FROM chat_messages m
		JOIN races r ON r.id = m.race_id
		WHERE m.race_id = ?
		ORDER BY m.posted_at ASC, m.rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	entries := []model.ChatEntry{}
	for rows.Next() {
		var entry model.ChatEntry
		err := rows.Scan(
			&entry.ID,
			&entry.RaceID,
			&entry.Author,
			&entry.IsBot,
			&entry.Message,
			&entry.IsSystem,
			&entry.PostedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat history: %w", err)
	}

	return entries, nil
}

// ApplyAction applies one mutation kind to a race on behalf of an actor and
// publishes the resulting group events. Domain validation failures come back
// as *model.SafeError with the race unchanged.
func (s *RaceStore) ApplyAction(ctx context.Context, raceID, kind string, actor model.Actor, data json.RawMessage) (*model.RaceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Load(ctx, raceID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "message":
		return s.applyMessage(ctx, snap, actor, data)
	case "setinfo":
		return s.applySetInfo(ctx, snap, actor, data)
	default:
		return s.applyCatalogAction(ctx, snap, kind, actor, data)
	}
}

// messageData is the payload of a chat message action.
type messageData struct {
	Text string `json:"text"`
}

func (s *RaceStore) applyMessage(ctx context.Context, snap *model.RaceSnapshot, actor model.Actor, data json.RawMessage) (*model.RaceSnapshot, error) {
	var payload messageData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, model.Safe("Message data is invalid.")
		}
	}
	if strings.TrimSpace(payload.Text) == "" {
		return nil, model.Safe("Message cannot be blank.")
	}

	entry, err := s.insertChat(ctx, snap.ID, actor.DisplayName(), actor.IsBot(), payload.Text, false)
	if err != nil {
		return nil, err
	}

	s.groups.Publish(snap.ID, broadcast.Event{
		Type:    broadcast.EventChatMessage,
		Message: entry,
	})
	return snap, nil
}

// setInfoData is the payload of a bot info update.
type setInfoData struct {
	Info string `json:"info"`
}

func (s *RaceStore) applySetInfo(ctx context.Context, snap *model.RaceSnapshot, actor model.Actor, data json.RawMessage) (*model.RaceSnapshot, error) {
	var payload setInfoData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, model.Safe("Race information is invalid.")
		}
	}

	st, err := snap.DecodeState()
	if err != nil {
		return nil, fmt.Errorf("failed to decode race state: %w", err)
	}
	st.Info = payload.Info

	updated, err := s.persistState(ctx, snap, st)
	if err != nil {
		return nil, err
	}

	s.publishRaceData(updated)
	if err := s.postSystemChat(ctx, updated.ID, actor.DisplayName()+" updated the race information.", actor.IsBot()); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RaceStore) applyCatalogAction(ctx context.Context, snap *model.RaceSnapshot, kind string, actor model.Actor, data json.RawMessage) (*model.RaceSnapshot, error) {
	fn, ok := actions.Lookup(kind)
	if !ok {
		return nil, model.ErrUnknownAction
	}

	st, err := snap.DecodeState()
	if err != nil {
		return nil, fmt.Errorf("failed to decode race state: %w", err)
	}
	next := st.Clone()

	notice, err := fn(&next, actor, data)
	if err != nil {
		return nil, err
	}

	updated, err := s.persistState(ctx, snap, next)
	if err != nil {
		return nil, err
	}

	s.publishRaceData(updated)
	if notice != "" {
		if err := s.postSystemChat(ctx, updated.ID, notice, actor.IsBot()); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// UpdateRenders replaces a race's renders payload, bumping its version and
// publishing a race.renders event. Renders are produced by an external
// renderer; the payload is opaque here.
func (s *RaceStore) UpdateRenders(ctx context.Context, raceID string, renders json.RawMessage) (*model.RaceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE races
		SET renders = ?, renders_version = renders_version + 1, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(renders), time.Now().UTC(), raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to update renders: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, model.ErrRaceNotFound
	}

	snap, err := s.Load(ctx, raceID)
	if err != nil {
		return nil, err
	}

	s.groups.Publish(snap.ID, broadcast.Event{
		Type:    broadcast.EventRaceRenders,
		Renders: snap.Renders,
		Version: snap.RendersVersion,
	})
	return snap, nil
}

// persistState writes a new state for the race and bumps its version.
func (s *RaceStore) persistState(ctx context.Context, snap *model.RaceSnapshot, st model.RaceState) (*model.RaceSnapshot, error) {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize race state: %w", err)
	}

	query := `
		UPDATE races
		SET state = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(stateJSON), time.Now().UTC(), snap.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update race: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, model.ErrRaceNotFound
	}

	return s.Load(ctx, snap.ID)
}

func (s *RaceStore) publishRaceData(snap *model.RaceSnapshot) {
	s.groups.Publish(snap.ID, broadcast.Event{
		Type:    broadcast.EventRaceData,
		Race:    snap.State,
		Version: snap.Version,
	})
}

// postSystemChat records and broadcasts an automated notice.
func (s *RaceStore) postSystemChat(ctx context.Context, raceID, text string, isBot bool) error {
	entry, err := s.insertChat(ctx, raceID, "System", isBot, text, true)
	if err != nil {
		return err
	}
	s.groups.Publish(raceID, broadcast.Event{
		Type:    broadcast.EventChatMessage,
		Message: entry,
	})
	return nil
}

func (s *RaceStore) insertChat(ctx context.Context, raceID, author string, isBot bool, text string, isSystem bool) (*model.ChatEntry, error) {
	entry := &model.ChatEntry{
		ID:       uuid.NewString(),
		RaceID:   raceID,
		Author:   author,
		IsBot:    isBot,
		Message:  text,
		IsSystem: isSystem,
		PostedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO chat_messages (id, race_id, author, is_bot, message, is_system, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RaceID,
		entry.Author,
		entry.IsBot,
		entry.Message,
		entry.IsSystem,
		entry.PostedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat entry: %w", err)
	}

	return entry, nil
}
