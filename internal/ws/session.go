package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liverace/backend/internal/broadcast"
	"github.com/liverace/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frame backlog per connection.
	sendBuffer = 256
)

// Store is the race aggregate store the session collaborates with. Mutations
// are applied and broadcast by the store; the session only triggers them.
type Store interface {
	Load(ctx context.Context, raceID string) (*model.RaceSnapshot, error)
	ChatHistory(ctx context.Context, raceID string) ([]model.ChatEntry, error)
	ApplyAction(ctx context.Context, raceID, kind string, actor model.Actor, data json.RawMessage) (*model.RaceSnapshot, error)
}

// connState is the per-connection cache of the subscribed race. It is set
// from the snapshot at connect time, refreshed by group events, and cleared
// entirely when the race can no longer be loaded.
type connState struct {
	raceID         string
	categoryID     string
	race           json.RawMessage
	version        int64
	renders        json.RawMessage
	rendersVersion int64
}

// Session is one connection's state machine. Inbound frames are processed to
// completion one at a time; outbound frames funnel through a single send
// channel drained by writePump.
type Session struct {
	store   Store
	groups  *broadcast.Registry
	variant variant
	token   string

	conn *websocket.Conn
	sub  *broadcast.Subscription

	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool

	mu    sync.Mutex
	state connState
}

// NewSession creates a session that has not yet connected to a race.
func NewSession(store Store, groups *broadcast.Registry, v variant, token string) *Session {
	return &Session{
		store:   store,
		groups:  groups,
		variant: v,
		token:   token,
		send:    make(chan []byte, sendBuffer),
	}
}

// Connect loads the race and subscribes to its group. model.ErrRaceNotFound
// means the connection must be refused without ever accepting the socket.
func (s *Session) Connect(ctx context.Context, raceID string) error {
	snap, err := s.store.Load(ctx, raceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = connState{
		raceID:         snap.ID,
		categoryID:     snap.CategoryID,
		race:           snap.State,
		version:        snap.Version,
		renders:        snap.Renders,
		rendersVersion: snap.RendersVersion,
	}
	s.mu.Unlock()

	s.sub = s.groups.Get(raceID).Subscribe()
	return nil
}

// RaceID returns the subscribed race identifier, or "" when the state is
// empty.
func (s *Session) RaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.raceID
}

// CategoryID returns the subscribed race's category identifier.
func (s *Session) CategoryID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.categoryID
}

// Run attaches the accepted socket, primes the client with the cached
// snapshot, and drives the pumps. It returns when the connection ends; the
// group subscription is released before it does.
func (s *Session) Run(conn *websocket.Conn) {
	s.conn = conn

	s.sendRace()

	go s.writePump()
	go s.eventLoop()
	s.readPump()
}

// teardown releases the group subscription and the send channel. Safe to
// call more than once.
func (s *Session) teardown() {
	if s.sub != nil {
		s.sub.Close()
	}
	s.closeSend()
}

// enqueue queues an outbound frame. A connection whose backlog is full is
// closed rather than blocking the rest of the group.
func (s *Session) enqueue(frame []byte) {
	if frame == nil {
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return
	}

	select {
	case s.send <- frame:
	default:
		s.closeSendLocked()
	}
}

func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.closeSendLocked()
}

func (s *Session) closeSendLocked() {
	if s.sendClosed {
		return
	}
	s.sendClosed = true
	close(s.send)
}

// sendRace resends the cached race.data and race.renders frames. Used to
// prime a fresh connection and to answer getrace.
func (s *Session) sendRace() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	if st.raceID == "" {
		return
	}
	s.enqueue(raceDataFrame(st.race, st.version))
	s.enqueue(raceRendersFrame(st.renders, st.rendersVersion))
}

// sendChatHistory queries the chat history fresh from the store. A vanished
// race yields an empty history, never an error frame.
func (s *Session) sendChatHistory(ctx context.Context) error {
	raceID := s.RaceID()
	if raceID == "" {
		s.enqueue(chatHistoryFrame(nil))
		return nil
	}

	messages, err := s.store.ChatHistory(ctx, raceID)
	if err != nil {
		return err
	}
	s.enqueue(chatHistoryFrame(messages))
	return nil
}

// handleEvent translates one group event into an outbound frame, refreshing
// the cached snapshot fields. race.data and race.renders events older than
// the cache are dropped; the hub does not deduplicate or reorder for us.
func (s *Session) handleEvent(ctx context.Context, ev broadcast.Event) {
	switch ev.Type {
	case broadcast.EventRaceData:
		s.mu.Lock()
		if ev.Version < s.state.version {
			s.mu.Unlock()
			return
		}
		s.state.race = ev.Race
		s.state.version = ev.Version
		s.mu.Unlock()
		s.enqueue(raceDataFrame(ev.Race, ev.Version))

	case broadcast.EventRaceRenders:
		s.mu.Lock()
		if ev.Version < s.state.rendersVersion {
			s.mu.Unlock()
			return
		}
		s.state.renders = ev.Renders
		s.state.rendersVersion = ev.Version
		s.mu.Unlock()
		s.enqueue(raceRendersFrame(ev.Renders, ev.Version))

	case broadcast.EventChatMessage:
		if ev.Message == nil {
			return
		}
		s.enqueue(chatMessageFrame(ev.Message))
		if ev.Message.IsSystem {
			s.reloadRace(ctx)
		}

	case broadcast.EventError:
		s.enqueue(errorFrame(ev.Errors...))
	}
}

// reloadRace refreshes the cached snapshot after a system notice. A race
// that can no longer be loaded clears the connection state entirely.
func (s *Session) reloadRace(ctx context.Context) {
	raceID := s.RaceID()
	if raceID == "" {
		return
	}

	snap, err := s.store.Load(ctx, raceID)
	if errors.Is(err, model.ErrRaceNotFound) {
		s.mu.Lock()
		s.state = connState{}
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("Failed to reload race %s: %v", raceID, err)
		return
	}

	s.mu.Lock()
	if snap.Version >= s.state.version {
		s.state.race = snap.State
		s.state.version = snap.Version
	}
	if snap.RendersVersion >= s.state.rendersVersion {
		s.state.renders = snap.Renders
		s.state.rendersVersion = snap.RendersVersion
	}
	s.mu.Unlock()
}

// eventLoop forwards group deliveries until the subscription closes.
func (s *Session) eventLoop() {
	ctx := context.Background()
	for ev := range s.sub.C() {
		s.handleEvent(ctx, ev)
	}
	// Subscription gone (slow consumer cut or teardown): end the session.
	s.closeSend()
}

// readPump decodes and dispatches inbound frames one at a time.
func (s *Session) readPump() {
	defer func() {
		s.teardown()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if err := s.dispatch(ctx, raw); err != nil {
			log.Printf("Fatal dispatch error on race %s: %v", s.RaceID(), err)
			break
		}
	}
}

// writePump drains the send channel to the socket. It is the only writer.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
