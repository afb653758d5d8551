package control

import (
	"encoding/json"
	"errors"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/engine"
)

var (
	// ErrUnknownCommand is returned for an envelope whose type names no command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadPayload is returned when an envelope's data does not fit its command.
	ErrBadPayload = errors.New("bad payload")
)

// MessageType names a command or a server message.
type MessageType string

const (
	// commands
	MsgLoadDeck      MessageType = "load_deck_audio"
	MsgPlayDeck      MessageType = "play_deck"
	MsgSeekDeck      MessageType = "seek_deck"
	MsgSeekAndPlay   MessageType = "seek_and_play"
	MsgSetCrossfader MessageType = "set_crossfader"
	MsgSetCurve      MessageType = "set_crossfader_curve"
	MsgSetVolume     MessageType = "set_deck_volume"
	MsgSetLoop       MessageType = "set_loop"
	MsgSetCuePoints  MessageType = "set_cue_points"
	MsgSetPitch      MessageType = "set_pitch"
	MsgPreview       MessageType = "stem_loop_preview"
	MsgStopPreview   MessageType = "stop_preview"
	MsgUnloadDeck    MessageType = "unload_deck"
	MsgGetStatus     MessageType = "get_status"

	// server to client
	MsgTimeUpdate  MessageType = MessageType(engine.NotifyTimeUpdate)
	MsgDeckStopped MessageType = MessageType(engine.NotifyDeckStopped)
	MsgStatus      MessageType = "status"
	MsgError       MessageType = "error"
)

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type deckData struct {
	Deck engine.DeckID `json:"deck"`
}

type playDeckData struct {
	Deck    engine.DeckID `json:"deck"`
	Playing bool          `json:"playing"`
}

type positionData struct {
	Deck     engine.DeckID `json:"deck"`
	Position float64       `json:"position"`
}

type crossfaderData struct {
	Value float64 `json:"value"`
}

type curveData struct {
	Curve string `json:"curve"`
}

type volumeData struct {
	Deck  engine.DeckID `json:"deck"`
	Level float64       `json:"level"`
}

type loopData struct {
	Deck engine.DeckID `json:"deck"`
	engine.LoopConfig
}

type cuePointsData struct {
	Deck    engine.DeckID      `json:"deck"`
	Markers []engine.CueMarker `json:"markers"`
}

type pitchData struct {
	Deck  engine.DeckID `json:"deck"`
	Value float64       `json:"value"`
}

type errorData struct {
	Command MessageType `json:"command,omitempty"`
	Message string      `json:"message"`
}

type stoppedData struct {
	Deck engine.DeckID `json:"deck"`
}

// encode builds an envelope with v marshalled as its data.
func encode(t MessageType, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// encodeNotification renders an engine notification for clients.
func encodeNotification(n engine.Notification) ([]byte, error) {
	if n.Type == engine.NotifyDeckStopped {
		return encode(MsgDeckStopped, stoppedData{Deck: n.Deck})
	}
	return encode(MessageType(n.Type), n)
}

func encodeError(cmd MessageType, err error) []byte {
	b, mErr := encode(MsgError, errorData{Command: cmd, Message: err.Error()})
	if mErr != nil {
		return []byte(`{"type":"error","data":{"message":"internal error"}}`)
	}
	return b
}

// knownStems reports whether every source names a recognized stem type.
func knownStems(sources []engine.StemSource) bool {
	for _, s := range sources {
		if !audio.KnownStem(s.Stem) {
			return false
		}
	}
	return true
}
