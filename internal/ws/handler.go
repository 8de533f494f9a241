package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/liverace/backend/internal/auth"
	"github.com/liverace/backend/internal/broadcast"
	"github.com/liverace/backend/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler accepts race connections and binds them to sessions.
type Handler struct {
	store    Store
	groups   *broadcast.Registry
	resolver auth.Resolver
	bots     auth.BotRegistry
}

// NewHandler creates a new connection handler.
func NewHandler(store Store, groups *broadcast.Registry, resolver auth.Resolver, bots auth.BotRegistry) *Handler {
	return &Handler{
		store:    store,
		groups:   groups,
		resolver: resolver,
		bots:     bots,
	}
}

// HandleRace serves a human participant connection for the race.
func (h *Handler) HandleRace(w http.ResponseWriter, r *http.Request, raceID string) error {
	return h.handle(w, r, raceID, HumanVariant(h.resolver))
}

// HandleBot serves a bot integration connection for the race.
func (h *Handler) HandleBot(w http.ResponseWriter, r *http.Request, raceID string) error {
	return h.handle(w, r, raceID, BotVariant(h.resolver, h.bots))
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, raceID string, v variant) error {
	sess := NewSession(h.store, h.groups, v, bearerToken(r))

	if err := sess.Connect(r.Context(), raceID); err != nil {
		if errors.Is(err, model.ErrRaceNotFound) {
			// Refused before the handshake; a missing race looks
			// exactly like an unauthorized probe.
			w.WriteHeader(http.StatusNotFound)
			return nil
		}
		return err
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.teardown()
		return err
	}

	go sess.Run(conn)
	return nil
}

// bearerToken extracts the connection credential from the Authorization
// header or, failing that, the token query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
