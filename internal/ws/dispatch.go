package ws

import (
	"context"

	"github.com/liverace/backend/internal/model"
)

// Local actions answered without touching the dispatch table or persistence.
const (
	actionPing       = "ping"
	actionGetRace    = "getrace"
	actionGetHistory = "gethistory"
)

// dispatch routes one decoded inbound frame. Recoverable failures are
// answered with error frames and a nil return; a non-nil error is fatal for
// the connection and must leave state and subscription consistent.
func (s *Session) dispatch(ctx context.Context, raw []byte) error {
	in, err := DecodeInbound(raw)
	if err != nil {
		s.enqueue(errorFrame(msgMalformed))
		return nil
	}

	switch in.Action {
	case actionPing:
		s.enqueue(pongFrame())
		return nil
	case actionGetRace:
		s.sendRace()
		return nil
	case actionGetHistory:
		return s.sendChatHistory(ctx)
	default:
		return s.dispatchAction(ctx, in)
	}
}

// dispatchAction runs the authorization pipeline for a non-local action:
// table lookup, identity resolution, subscribed-race guard, then the store
// mutation. Each step short-circuits on failure.
func (s *Session) dispatchAction(ctx context.Context, in Inbound) error {
	scope, ok := s.variant.table(in.Action)
	if !ok {
		s.enqueue(errorFrame(msgUnrecognized))
		return nil
	}

	actor, resolved, err := s.variant.resolve(ctx, s, scope)
	if err != nil {
		return err
	}
	if !resolved {
		s.enqueue(errorFrame(s.variant.deniedMessage()))
		return nil
	}

	// A session whose race never loaded (or vanished mid-session) treats
	// mutations as a benign race against disconnect.
	raceID := s.RaceID()
	if raceID == "" {
		return nil
	}

	if _, err := s.store.ApplyAction(ctx, raceID, in.Action, actor, in.Data); err != nil {
		if msgs, safe := model.SafeMessages(err); safe {
			s.enqueue(errorFrame(msgs...))
			return nil
		}
		return err
	}
	return nil
}
