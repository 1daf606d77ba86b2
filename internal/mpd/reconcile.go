package mpd

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"mpdris/internal/player"
)

// Requester sends a single command and returns its response
type Requester interface {
	Request(ctx context.Context, command string) ([]Pair, error)
}

// CoverResolver maps a song URI to a cover URL, empty when there is none
type CoverResolver interface {
	Resolve(uri string) string
}

// Reconcile queries the backend status, builds the next Status from it and
// diffs it against old. currentsong is only queried when the song id changed.
//
// couldBeSeeking is true when the same song kept playing, in which case a
// player change may have been a seek the diff cannot see.
func Reconcile(ctx context.Context, conn Requester, old player.Status, covers CoverResolver) (next player.Status, events []player.StateChanged, couldBeSeeking bool, err error) {
	pairs, err := conn.Request(ctx, "status")
	if err != nil {
		return old, nil, false, err
	}

	next = player.NewStatus()
	isSingle := false
	var songID *uint32

	for _, pair := range pairs {
		switch pair.Key {
		case "state":
			next.State = parseState(pair.Value, next.State)
		case "single":
			isSingle = parseInt(pair.Value) > 0
		case "repeat":
			if parseInt(pair.Value) > 0 {
				next.Repeat = player.RepeatOn
			}
		case "duration":
			next.Duration = parseSeconds(pair.Value)
		case "elapsed":
			next.Elapsed = parseSeconds(pair.Value)
		case "volume":
			next.Volume = lo.Clamp(parseInt(pair.Value), 0, 100)
		case "random":
			next.Shuffle = parseInt(pair.Value) > 0
		case "nextsongid":
			next.NextSong = parseID(pair.Value)
		case "playlistlength":
			if n := parseID(pair.Value); n != nil {
				next.PlaylistLength = *n
			}
		case "songid":
			songID = parseID(pair.Value)
		}
	}

	if isSingle {
		next.Repeat = player.RepeatSingle
	}

	if songID != nil && next.PlaylistLength > 0 {
		if oldID, ok := old.SongID(); ok && oldID == *songID {
			next.CurrentSong = old.CurrentSong
		} else {
			song, err := fetchSong(ctx, conn, *songID, covers)
			if err != nil {
				return old, nil, false, err
			}
			next.CurrentSong = song
		}
	}

	events = Diff(&old, &next)
	couldBeSeeking = old.SameSong(&next) && old.State == next.State && next.State == player.Playing
	return next, events, couldBeSeeking, nil
}

// Diff lists the changes from old to next in publishing order
func Diff(old, next *player.Status) []player.StateChanged {
	var events []player.StateChanged

	if old.State != player.Playing && next.State != player.Playing && !player.ElapsedEqual(old, next) {
		events = append(events, player.PositionEvent(next.ElapsedMicros()))
	}
	if old.State != next.State {
		events = append(events, player.Changed(player.PlayStateChanged))
	}
	if old.Volume != next.Volume {
		events = append(events, player.Changed(player.VolumeChanged))
	}
	if old.Repeat != next.Repeat {
		events = append(events, player.Changed(player.RepeatChanged))
	}
	if old.Shuffle != next.Shuffle {
		events = append(events, player.Changed(player.ShuffleChanged))
	}
	if !old.SameSong(next) {
		prev := (old.PlaylistLength == 0) != (next.PlaylistLength == 0)
		events = append(events, player.SongEvent(prev, !player.NextSongEqual(old, next)))
	}
	if (old.NextSong == nil) != (next.NextSong == nil) || old.PlaylistLength != next.PlaylistLength {
		events = append(events, player.Changed(player.PlaylistChanged))
	}

	return events
}

func fetchSong(ctx context.Context, conn Requester, id uint32, covers CoverResolver) (*player.Song, error) {
	pairs, err := conn.Request(ctx, "currentsong")
	if err != nil {
		return nil, err
	}
	song := SongFromPairs(pairs)
	song.ID = id
	if covers != nil && song.URI != "" {
		song.Cover = covers.Resolve(song.URI)
	}
	return song, nil
}

// SongFromPairs builds a song from a currentsong response. Repeated tags
// accumulate in order.
func SongFromPairs(pairs []Pair) *player.Song {
	song := &player.Song{}
	for _, pair := range pairs {
		value := pair.Value
		switch pair.Key {
		case "file":
			song.URI = value
		case "Id":
			if id := parseID(value); id != nil {
				song.ID = *id
			}
		case "Title":
			song.Title = lo.ToPtr(value)
		case "Album":
			song.Album = lo.ToPtr(value)
		case "Date":
			song.Date = lo.ToPtr(value)
		case "Track":
			song.Track = parseOrdinal(value)
		case "Disc":
			song.Disc = parseOrdinal(value)
		case "AlbumArtist":
			song.AlbumArtists = append(song.AlbumArtists, value)
		case "Artist":
			song.Artists = append(song.Artists, value)
		case "Genre":
			song.Genres = append(song.Genres, value)
		case "Composer":
			song.Composers = append(song.Composers, value)
		case "Comment":
			song.Comments = append(song.Comments, value)
		}
	}
	return song
}

func parseState(value string, fallback player.PlayState) player.PlayState {
	switch value {
	case "play":
		return player.Playing
	case "pause":
		return player.Paused
	case "stop":
		return player.Stopped
	default:
		return fallback
	}
}

func parseInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func parseID(value string) *uint32 {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return nil
	}
	return lo.ToPtr(uint32(n))
}

// parseOrdinal reads "3" as well as "3/12"
func parseOrdinal(value string) *int {
	head, _, _ := strings.Cut(value, "/")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return nil
	}
	return &n
}

func parseSeconds(value string) *time.Duration {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return nil
	}
	micros := math.Round(seconds * 1e6)
	return lo.ToPtr(time.Duration(micros) * time.Microsecond)
}

// changedSubsystems extracts the subsystem names from an idle response
func changedSubsystems(pairs []Pair) []string {
	return lo.FilterMap(pairs, func(pair Pair, _ int) (string, bool) {
		return pair.Value, pair.Key == "changed"
	})
}
