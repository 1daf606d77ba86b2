package mpris

import (
	"reflect"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"

	"mpdris/internal/player"
)

func TestTrackID(t *testing.T) {
	path := TrackID(42)
	if path != "/org/musicpd/mpris/42" {
		t.Errorf("TrackID(42) = %s", path)
	}
	if !path.IsValid() {
		t.Errorf("TrackID(42) is not a valid object path")
	}

	tests := map[dbus.ObjectPath]struct {
		id uint32
		ok bool
	}{
		"/org/musicpd/mpris/42":                     {42, true},
		"/org/musicpd/mpris/0":                      {0, true},
		"/org/musicpd/mpris/":                       {0, false},
		"/org/musicpd/mpris/x1":                     {0, false},
		"/org/musicpd/mpris/99999999999":            {0, false},
		"/org/mpris/MediaPlayer2/TrackList/NoTrack": {0, false},
	}
	for path, want := range tests {
		id, ok := parseTrackID(path)
		if id != want.id || ok != want.ok {
			t.Errorf("parseTrackID(%s) = %d, %t, want %d, %t", path, id, ok, want.id, want.ok)
		}
	}
}

func TestLoopStatus(t *testing.T) {
	for _, repeat := range []player.Repeat{player.RepeatOff, player.RepeatOn, player.RepeatSingle} {
		got, err := parseLoopStatus(loopStatus(repeat))
		if err != nil || got != repeat {
			t.Errorf("parseLoopStatus(loopStatus(%s)) = %s, %v", repeat, got, err)
		}
	}
	if _, err := parseLoopStatus("track"); err == nil {
		t.Error("parseLoopStatus() accepted a lowercase value")
	}
}

func TestVolumePercent(t *testing.T) {
	tests := map[float64]int{
		0:     0,
		0.5:   50,
		0.555: 56,
		1:     100,
		2.5:   100,
		-1:    0,
	}
	for in, want := range tests {
		if got := volumePercent(in); got != want {
			t.Errorf("volumePercent(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestMetadata(t *testing.T) {
	t.Run("no song", func(t *testing.T) {
		s := player.NewStatus()
		want := map[string]dbus.Variant{
			"mpris:trackid": dbus.MakeVariant(noTrack),
		}
		if got := Metadata(&s, "/music"); !reflect.DeepEqual(got, want) {
			t.Errorf("Metadata() = %v, want %v", got, want)
		}
	})

	t.Run("full song", func(t *testing.T) {
		s := player.NewStatus()
		s.Duration = lo.ToPtr(215500 * time.Millisecond)
		s.CurrentSong = &player.Song{
			URI:          "Artist/Album/01 Intro.flac",
			ID:           12,
			Title:        lo.ToPtr("Intro"),
			Album:        lo.ToPtr("Album"),
			Track:        lo.ToPtr(1),
			Disc:         lo.ToPtr(2),
			Date:         lo.ToPtr("2019-03-01"),
			AlbumArtists: []string{"Artist"},
			Artists:      []string{"Artist", "Guest"},
			Genres:       []string{"Rock"},
			Composers:    []string{"Writer"},
			Comments:     []string{"Remastered"},
			Cover:        "file:///music/Artist/Album/cover.jpg",
		}

		want := map[string]dbus.Variant{
			"mpris:trackid":        dbus.MakeVariant(dbus.ObjectPath("/org/musicpd/mpris/12")),
			"mpris:length":         dbus.MakeVariant(int64(215_500_000)),
			"mpris:artUrl":         dbus.MakeVariant("file:///music/Artist/Album/cover.jpg"),
			"xesam:url":            dbus.MakeVariant("file:///music/Artist/Album/01%20Intro.flac"),
			"xesam:title":          dbus.MakeVariant("Intro"),
			"xesam:album":          dbus.MakeVariant("Album"),
			"xesam:trackNumber":    dbus.MakeVariant(int32(1)),
			"xesam:discNumber":     dbus.MakeVariant(int32(2)),
			"xesam:contentCreated": dbus.MakeVariant("2019-03-01"),
			"xesam:albumArtist":    dbus.MakeVariant([]string{"Artist"}),
			"xesam:artist":         dbus.MakeVariant([]string{"Artist", "Guest"}),
			"xesam:genre":          dbus.MakeVariant([]string{"Rock"}),
			"xesam:composer":       dbus.MakeVariant([]string{"Writer"}),
			"xesam:comment":        dbus.MakeVariant([]string{"Remastered"}),
		}
		got := Metadata(&s, "/music")
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Metadata() = %v, want %v", got, want)
		}
	})

	t.Run("sparse song", func(t *testing.T) {
		s := player.NewStatus()
		s.CurrentSong = &player.Song{URI: "http://radio.example/live", ID: 3}
		got := Metadata(&s, "/music")
		want := map[string]dbus.Variant{
			"mpris:trackid": dbus.MakeVariant(TrackID(3)),
			"xesam:url":     dbus.MakeVariant("http://radio.example/live"),
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Metadata() = %v, want %v", got, want)
		}
	})
}

func TestSongURL(t *testing.T) {
	tests := []struct {
		uri, library, want string
	}{
		{"a/b.flac", "/music", "file:///music/a/b.flac"},
		{"a/b.flac", "", "file://a/b.flac"},
		{"https://example.org/x.ogg", "/music", "https://example.org/x.ogg"},
	}
	for _, tt := range tests {
		if got := songURL(tt.uri, tt.library); got != tt.want {
			t.Errorf("songURL(%q, %q) = %q, want %q", tt.uri, tt.library, got, tt.want)
		}
	}
}

func TestBusName(t *testing.T) {
	if got := (Options{}).BusName(); got != "org.mpris.MediaPlayer2.mpd" {
		t.Errorf("BusName() = %s", got)
	}
	if got := (Options{BusNameSuffix: "instance2"}).BusName(); got != "org.mpris.MediaPlayer2.mpd.instance2" {
		t.Errorf("BusName() with suffix = %s", got)
	}
}
