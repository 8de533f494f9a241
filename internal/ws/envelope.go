package ws

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/liverace/backend/internal/model"
)

// Outbound frame types.
const (
	FrameTypePong        = "pong"
	FrameTypeRaceData    = "race.data"
	FrameTypeRaceRenders = "race.renders"
	FrameTypeChatHistory = "chat.history"
	FrameTypeChatMessage = "chat.message"
	FrameTypeError       = "error"
)

// Fixed user-visible messages for recoverable protocol failures.
const (
	msgMalformed = "Unable to process that message (encountered invalid or " +
		"possibly corrupted data). Sorry about that."
	msgUnrecognized = "Action is missing or not recognised. Check your " +
		"input and try again."
	msgUserDenied = "Permission denied, you may need to re-authorize this " +
		"application."
	msgBotDenied = "Permission denied. Check your authorization token."
)

// ErrMalformedFrame is returned by DecodeInbound for undecodable input.
var ErrMalformedFrame = errors.New("malformed frame")

// timeNow stamps outbound frames; overridable in tests.
var timeNow = time.Now

// Inbound is a client request frame.
type Inbound struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// DecodeInbound parses a raw client frame. Decode failure is recoverable:
// the caller replies with a fixed error frame and keeps the connection open.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, ErrMalformedFrame
	}
	return in, nil
}

// frameHeader is embedded in every outbound frame. Date is the encode-time
// wall clock.
type frameHeader struct {
	Type string    `json:"type"`
	Date time.Time `json:"date"`
}

func header(frameType string) frameHeader {
	return frameHeader{Type: frameType, Date: timeNow().UTC()}
}

type pongPayload struct {
	frameHeader
}

type raceDataPayload struct {
	frameHeader
	Race    json.RawMessage `json:"race"`
	Version int64           `json:"version"`
}

type raceRendersPayload struct {
	frameHeader
	Renders json.RawMessage `json:"renders"`
	Version int64           `json:"version"`
}

type chatHistoryPayload struct {
	frameHeader
	Messages []model.ChatEntry `json:"messages"`
}

type chatMessagePayload struct {
	frameHeader
	Message *model.ChatEntry `json:"message"`
}

type errorPayload struct {
	frameHeader
	Errors []string `json:"errors"`
}

func encodeFrame(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return nil
	}
	return data
}

func pongFrame() []byte {
	return encodeFrame(pongPayload{frameHeader: header(FrameTypePong)})
}

func raceDataFrame(race json.RawMessage, version int64) []byte {
	return encodeFrame(raceDataPayload{
		frameHeader: header(FrameTypeRaceData),
		Race:        race,
		Version:     version,
	})
}

func raceRendersFrame(renders json.RawMessage, version int64) []byte {
	return encodeFrame(raceRendersPayload{
		frameHeader: header(FrameTypeRaceRenders),
		Renders:     renders,
		Version:     version,
	})
}

func chatHistoryFrame(messages []model.ChatEntry) []byte {
	if messages == nil {
		messages = []model.ChatEntry{}
	}
	return encodeFrame(chatHistoryPayload{
		frameHeader: header(FrameTypeChatHistory),
		Messages:    messages,
	})
}

func chatMessageFrame(entry *model.ChatEntry) []byte {
	return encodeFrame(chatMessagePayload{
		frameHeader: header(FrameTypeChatMessage),
		Message:     entry,
	})
}

func errorFrame(errs ...string) []byte {
	return encodeFrame(errorPayload{
		frameHeader: header(FrameTypeError),
		Errors:      errs,
	})
}
