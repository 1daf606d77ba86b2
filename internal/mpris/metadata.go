package mpris

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"

	"mpdris/internal/cover"
	"mpdris/internal/player"
)

const (
	trackIDPrefix = "/org/musicpd/mpris/"
	noTrack       = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")
)

// TrackID returns the object path that identifies a queue entry
func TrackID(id uint32) dbus.ObjectPath {
	return dbus.ObjectPath(trackIDPrefix + strconv.FormatUint(uint64(id), 10))
}

// parseTrackID is the inverse of TrackID
func parseTrackID(path dbus.ObjectPath) (uint32, bool) {
	rest, ok := strings.CutPrefix(string(path), trackIDPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func playbackStatus(s *player.Status) string {
	return s.State.String()
}

func loopStatus(r player.Repeat) string {
	switch r {
	case player.RepeatOn:
		return "Playlist"
	case player.RepeatSingle:
		return "Track"
	default:
		return "None"
	}
}

func parseLoopStatus(value string) (player.Repeat, error) {
	switch value {
	case "None":
		return player.RepeatOff, nil
	case "Playlist":
		return player.RepeatOn, nil
	case "Track":
		return player.RepeatSingle, nil
	default:
		return player.RepeatOff, fmt.Errorf("unknown loop status %q", value)
	}
}

// volume maps percent to the 0.0-1.0 range
func volume(s *player.Status) float64 {
	return float64(s.Volume) / 100
}

// volumePercent maps an MPRIS volume back to percent, clamping out of range values
func volumePercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return lo.Clamp(int(math.Round(v*100)), 0, 100)
}

func position(s *player.Status) int64 {
	return s.ElapsedMicros()
}

func canGoNext(s *player.Status) bool {
	return s.NextSong != nil
}

func canGoPrevious(s *player.Status) bool {
	return s.PlaylistLength > 1
}

func hasSong(s *player.Status) bool {
	return s.CurrentSong != nil
}

// songURL returns the location of a song, resolved against the library for
// local files
func songURL(uri, library string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	if library == "" {
		return "file://" + uri
	}
	return cover.FileURL(filepath.Join(library, filepath.FromSlash(uri)))
}

// Metadata builds the xesam/mpris metadata map for the current song
func Metadata(s *player.Status, library string) map[string]dbus.Variant {
	song := s.CurrentSong
	if song == nil {
		return map[string]dbus.Variant{
			"mpris:trackid": dbus.MakeVariant(noTrack),
		}
	}

	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(TrackID(song.ID)),
		"xesam:url":     dbus.MakeVariant(songURL(song.URI, library)),
	}
	if s.Duration != nil {
		m["mpris:length"] = dbus.MakeVariant(s.Duration.Microseconds())
	}
	if song.Cover != "" {
		m["mpris:artUrl"] = dbus.MakeVariant(song.Cover)
	}
	if song.Title != nil {
		m["xesam:title"] = dbus.MakeVariant(*song.Title)
	}
	if song.Album != nil {
		m["xesam:album"] = dbus.MakeVariant(*song.Album)
	}
	if song.Track != nil {
		m["xesam:trackNumber"] = dbus.MakeVariant(int32(*song.Track))
	}
	if song.Disc != nil {
		m["xesam:discNumber"] = dbus.MakeVariant(int32(*song.Disc))
	}
	if song.Date != nil {
		m["xesam:contentCreated"] = dbus.MakeVariant(*song.Date)
	}

	lists := map[string][]string{
		"xesam:albumArtist": song.AlbumArtists,
		"xesam:artist":      song.Artists,
		"xesam:genre":       song.Genres,
		"xesam:composer":    song.Composers,
		"xesam:comment":     song.Comments,
	}
	for key, values := range lists {
		if len(values) > 0 {
			m[key] = dbus.MakeVariant(values)
		}
	}

	return m
}
