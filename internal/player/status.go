package player

import (
	"time"
)

// PlayState is the playback state reported by MPD
type PlayState int

const (
	Playing PlayState = iota
	Paused
	Stopped
)

func (p PlayState) String() string {
	switch p {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Repeat is the repeat mode of the queue. Single means repeat the current track.
type Repeat int

const (
	RepeatOff Repeat = iota
	RepeatOn
	RepeatSingle
)

func (r Repeat) String() string {
	switch r {
	case RepeatOn:
		return "On"
	case RepeatSingle:
		return "Single"
	default:
		return "Off"
	}
}

// Status is the cached view of the backend's playback state
type Status struct {
	State   PlayState
	Volume  int // percent, 0-100
	Repeat  Repeat
	Shuffle bool

	// Elapsed and Duration are nil when no track is loaded
	Elapsed  *time.Duration
	Duration *time.Duration

	CurrentSong *Song
	// NextSong is the id of the song that plays after CurrentSong
	NextSong       *uint32
	PlaylistLength uint32
}

// NewStatus returns the status used before the first refresh
func NewStatus() Status {
	return Status{
		State:  Paused,
		Volume: 100,
		Repeat: RepeatOff,
	}
}

// SongID returns the id of the current song and whether there is one
func (s *Status) SongID() (uint32, bool) {
	if s.CurrentSong == nil {
		return 0, false
	}
	return s.CurrentSong.ID, true
}

// SameSong reports whether both statuses point at the same song identity
func (s *Status) SameSong(other *Status) bool {
	id, ok := s.SongID()
	otherID, otherOK := other.SongID()
	return ok == otherOK && id == otherID
}

// ElapsedMicros returns the elapsed time in microseconds, 0 when unknown
func (s *Status) ElapsedMicros() int64 {
	if s.Elapsed == nil {
		return 0
	}
	return s.Elapsed.Microseconds()
}

// Song is one queue entry as returned by currentsong. Identity is ID only.
type Song struct {
	URI string
	ID  uint32

	Title *string
	Album *string
	Track *int
	Disc  *int
	Date  *string

	AlbumArtists []string
	Artists      []string
	Genres       []string
	Composers    []string
	Comments     []string

	// Cover is a file:// URL, empty when no cover was found
	Cover string
}

// Same compares songs by identity
func (s *Song) Same(other *Song) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ID == other.ID
}

func durationsEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func idsEqual(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ElapsedEqual reports whether two statuses report the same elapsed time
func ElapsedEqual(a, b *Status) bool {
	return durationsEqual(a.Elapsed, b.Elapsed)
}

// NextSongEqual reports whether two statuses point at the same next song
func NextSongEqual(a, b *Status) bool {
	return idsEqual(a.NextSong, b.NextSong)
}
