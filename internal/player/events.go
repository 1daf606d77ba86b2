package player

import "fmt"

// ChangeKind identifies which part of the status changed
type ChangeKind int

const (
	PositionChanged ChangeKind = iota
	PlayStateChanged
	VolumeChanged
	RepeatChanged
	ShuffleChanged
	SongChanged
	PlaylistChanged
)

func (k ChangeKind) String() string {
	switch k {
	case PositionChanged:
		return "position"
	case PlayStateChanged:
		return "play_state"
	case VolumeChanged:
		return "volume"
	case RepeatChanged:
		return "repeat"
	case ShuffleChanged:
		return "shuffle"
	case SongChanged:
		return "song"
	case PlaylistChanged:
		return "playlist"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

// StateChanged is one change notification produced by a status refresh.
// Position is only set for PositionChanged, PrevChanged/NextChanged only for SongChanged.
type StateChanged struct {
	Kind ChangeKind

	Position int64 // microseconds

	PrevChanged bool
	NextChanged bool
}

// PositionEvent builds a position event
func PositionEvent(micros int64) StateChanged {
	return StateChanged{Kind: PositionChanged, Position: micros}
}

// SongEvent builds a song event. prev is set when the queue emptiness flipped,
// next when the id of the following song changed.
func SongEvent(prev, next bool) StateChanged {
	return StateChanged{Kind: SongChanged, PrevChanged: prev, NextChanged: next}
}

// Changed builds an event that carries no payload
func Changed(kind ChangeKind) StateChanged {
	return StateChanged{Kind: kind}
}

func (e StateChanged) String() string {
	switch e.Kind {
	case PositionChanged:
		return fmt.Sprintf("position(%dus)", e.Position)
	case SongChanged:
		return fmt.Sprintf("song(prev=%t, next=%t)", e.PrevChanged, e.NextChanged)
	default:
		return e.Kind.String()
	}
}
