package engine

import (
	"errors"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

var (
	// ErrInvalidDeck is returned for deck ids other than 1 and 2.
	ErrInvalidDeck = errors.New("invalid deck")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("engine closed")
)

// DeckID identifies one of the two decks.
type DeckID int

const (
	Deck1 DeckID = 1
	Deck2 DeckID = 2
)

// Valid reports whether id names an existing deck.
func (id DeckID) Valid() bool {
	return id == Deck1 || id == Deck2
}

// StemSource is one stem to load and where to fetch it from.
type StemSource struct {
	Stem audio.StemType `json:"stemType"`
	URL  string         `json:"url"`
}

// LoadRequest describes a track to put on a deck.
type LoadRequest struct {
	Deck        DeckID       `json:"deck"`
	Sources     []StemSource `json:"sources"`
	TempoBpm    *float64     `json:"tempoBpm,omitempty"`
	BeatTimesMs []float64    `json:"beatTimesMs,omitempty"`
}

// LoopConfig is a loop region. Both bounds absent means no loop; a loop with a
// single bound is kept but never triggers.
type LoopConfig struct {
	StartMs *float64 `json:"startMs,omitempty"`
	EndMs   *float64 `json:"endMs,omitempty"`
	Active  bool     `json:"active"`
}

// Cleared reports whether the config carries no bounds.
func (l LoopConfig) Cleared() bool {
	return l.StartMs == nil && l.EndMs == nil
}

// CueMarker is a labelled timestamp shown by the renderer. The scheduler never reads it.
type CueMarker struct {
	ID         string  `json:"id"`
	PositionMs float64 `json:"positionMs"`
	Label      string  `json:"label"`
	Color      string  `json:"color"`
}

// PreviewRequest auditions a sub-region of one stem.
type PreviewRequest struct {
	Deck    DeckID         `json:"deck"`
	Stem    audio.StemType `json:"stemType"`
	URL     string         `json:"url"`
	StartMs float64        `json:"startMs"`
	EndMs   float64        `json:"endMs"`
}

// NotificationType names an engine notification.
type NotificationType string

const (
	NotifyTimeUpdate  NotificationType = "time_update"
	NotifyDeckStopped NotificationType = "deck_stopped"
)

// Notification is emitted by the position tick.
type Notification struct {
	Type     NotificationType `json:"-"`
	Deck     DeckID           `json:"deck"`
	Position float64          `json:"position"`
}

// Observer receives notifications. It is called without engine locks held,
// so it may issue commands.
type Observer func(Notification)

// DeckStatus is a snapshot of one deck for the UI and the external renderer.
type DeckStatus struct {
	Deck         DeckID           `json:"deck"`
	Loaded       bool             `json:"loaded"`
	Loading      bool             `json:"loading"`
	Playing      bool             `json:"playing"`
	PositionMs   float64          `json:"positionMs"`
	DurationMs   float64          `json:"durationMs"`
	PitchPercent float64          `json:"pitchPercent"`
	Rate         float64          `json:"rate"`
	Volume       float64          `json:"volume"`
	TempoBpm     *float64         `json:"tempoBpm,omitempty"`
	BeatTimesMs  []float64        `json:"beatTimesMs"`
	Loop         *LoopConfig      `json:"loop,omitempty"`
	Cues         []CueMarker      `json:"cues"`
	Stems        []audio.StemType `json:"stems"`
}

// Status is a snapshot of the whole engine.
type Status struct {
	Decks          []DeckStatus `json:"decks"`
	Crossfader     float64      `json:"crossfader"`
	Curve          Curve        `json:"curve"`
	PreviewPlaying bool         `json:"previewPlaying"`
}
