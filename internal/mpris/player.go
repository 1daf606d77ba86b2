package mpris

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"mpdris/internal/player"
)

// Controller is the playback control surface, implemented by mpd.Client
type Controller interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	TogglePlay(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SeekRelative(ctx context.Context, forward bool, offset time.Duration) error
	SetVolume(ctx context.Context, volume int) error
	SetRepeat(ctx context.Context, repeat player.Repeat) error
	SetShuffle(ctx context.Context, shuffle bool) error
}

type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

type propertySetter interface {
	SetMust(iface, property string, v interface{})
}

// Player serves org.mpris.MediaPlayer2.Player. Its exported methods are the
// D-Bus methods of the interface.
type Player struct {
	ctx    context.Context
	ctrl   Controller
	state  *player.StateManager
	logger *logrus.Logger

	signals signalEmitter
	props   propertySetter

	mu      sync.RWMutex
	library string
}

func newPlayer(ctx context.Context, ctrl Controller, state *player.StateManager, library string, logger *logrus.Logger) *Player {
	return &Player{
		ctx:     ctx,
		ctrl:    ctrl,
		state:   state,
		logger:  logger,
		library: library,
	}
}

func (p *Player) libraryPath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.library
}

func (p *Player) setLibraryPath(library string) {
	p.mu.Lock()
	p.library = library
	p.mu.Unlock()
}

// result logs a failed control call and converts it to a D-Bus error
func (p *Player) result(action string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"action": action,
		"error":  err.Error(),
	}).Warn("Player control failed")
	return dbus.MakeFailedError(err)
}

func (p *Player) Next() *dbus.Error {
	return p.result("next", p.ctrl.Next(p.ctx))
}

func (p *Player) Previous() *dbus.Error {
	return p.result("previous", p.ctrl.Previous(p.ctx))
}

func (p *Player) Pause() *dbus.Error {
	return p.result("pause", p.ctrl.Pause(p.ctx))
}

func (p *Player) PlayPause() *dbus.Error {
	return p.result("play_pause", p.ctrl.TogglePlay(p.ctx))
}

func (p *Player) Stop() *dbus.Error {
	return p.result("stop", p.ctrl.Stop(p.ctx))
}

func (p *Player) Play() *dbus.Error {
	return p.result("play", p.ctrl.Play(p.ctx))
}

// Seek moves the playhead by offset microseconds. Seeking past the end skips
// to the next song, seeking before the start restarts the song.
func (p *Player) Seek(offset int64) *dbus.Error {
	s := p.state.Snapshot()
	if !hasSong(&s) {
		return nil
	}

	target := position(&s) + offset
	if s.Duration != nil && target > s.Duration.Microseconds() {
		return p.Next()
	}

	var err error
	if target < 0 {
		target = 0
		err = p.ctrl.Seek(p.ctx, 0)
	} else {
		delta := time.Duration(offset) * time.Microsecond
		err = p.ctrl.SeekRelative(p.ctx, offset >= 0, delta.Abs())
	}
	if err != nil {
		return p.result("seek", err)
	}
	p.seeked(target)
	return nil
}

// SetPosition jumps to an absolute position if trackID is still the current song
func (p *Player) SetPosition(trackID dbus.ObjectPath, pos int64) *dbus.Error {
	s := p.state.Snapshot()
	if pos < 0 || !hasSong(&s) {
		return nil
	}
	if id, ok := parseTrackID(trackID); !ok || id != s.CurrentSong.ID {
		p.logger.WithField("track_id", trackID).Debug("Ignoring SetPosition for a stale track")
		return nil
	}
	if s.Duration != nil && pos > s.Duration.Microseconds() {
		return nil
	}

	if err := p.ctrl.Seek(p.ctx, time.Duration(pos)*time.Microsecond); err != nil {
		return p.result("set_position", err)
	}
	p.seeked(pos)
	return nil
}

func (p *Player) OpenUri(uri string) *dbus.Error {
	return dbus.MakeFailedError(errors.New("opening URIs is not supported"))
}

func (p *Player) seeked(micros int64) {
	if p.signals == nil {
		return
	}
	if err := p.signals.Emit(objectPath, playerInterface+".Seeked", micros); err != nil {
		p.logger.WithError(err).Warn("Failed to emit Seeked")
	}
}

func (p *Player) set(property string, value interface{}) {
	if p.props != nil {
		p.props.SetMust(playerInterface, property, value)
	}
}

// handle forwards one state change to D-Bus clients
func (p *Player) handle(ev player.StateChanged) {
	s := p.state.Snapshot()

	switch ev.Kind {
	case player.PositionChanged:
		p.seeked(ev.Position)
	case player.SongChanged:
		p.set("Metadata", Metadata(&s, p.libraryPath()))
		if ev.PrevChanged {
			p.set("CanGoPrevious", canGoPrevious(&s))
		}
		if ev.NextChanged {
			p.set("CanGoNext", canGoNext(&s))
		}
		p.set("CanPlay", hasSong(&s))
		p.set("CanPause", hasSong(&s))
		p.set("CanSeek", hasSong(&s))
	case player.PlayStateChanged:
		p.set("PlaybackStatus", playbackStatus(&s))
	case player.VolumeChanged:
		p.set("Volume", volume(&s))
	case player.RepeatChanged:
		p.set("LoopStatus", loopStatus(s.Repeat))
	case player.ShuffleChanged:
		p.set("Shuffle", s.Shuffle)
	case player.PlaylistChanged:
		p.set("CanGoNext", canGoNext(&s))
		p.set("CanGoPrevious", canGoPrevious(&s))
	}
}

// run handles events until the subscription closes or ctx ends
func (p *Player) run(ctx context.Context, events <-chan player.StateChanged) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.logger.WithField("event", ev.String()).Debug("Forwarding state change")
			p.handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Player) onLoopStatus(c *prop.Change) *dbus.Error {
	value, ok := c.Value.(string)
	if !ok {
		return prop.ErrInvalidArg
	}
	repeat, err := parseLoopStatus(value)
	if err != nil {
		return dbus.MakeFailedError(err)
	}
	return p.result("set_loop_status", p.ctrl.SetRepeat(p.ctx, repeat))
}

func (p *Player) onShuffle(c *prop.Change) *dbus.Error {
	value, ok := c.Value.(bool)
	if !ok {
		return prop.ErrInvalidArg
	}
	return p.result("set_shuffle", p.ctrl.SetShuffle(p.ctx, value))
}

func (p *Player) onVolume(c *prop.Change) *dbus.Error {
	value, ok := c.Value.(float64)
	if !ok {
		return prop.ErrInvalidArg
	}
	return p.result("set_volume", p.ctrl.SetVolume(p.ctx, volumePercent(value)))
}

// properties returns the initial Player property table
func (p *Player) properties() map[string]*prop.Prop {
	s := p.state.Snapshot()

	readOnly := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Writable: false, Emit: prop.EmitTrue}
	}

	return map[string]*prop.Prop{
		"PlaybackStatus": readOnly(playbackStatus(&s)),
		"LoopStatus": {
			Value:    loopStatus(s.Repeat),
			Writable: true,
			Emit:     prop.EmitTrue,
			Callback: p.onLoopStatus,
		},
		"Rate": readOnly(1.0),
		"Shuffle": {
			Value:    s.Shuffle,
			Writable: true,
			Emit:     prop.EmitTrue,
			Callback: p.onShuffle,
		},
		"Metadata": readOnly(Metadata(&s, p.libraryPath())),
		"Volume": {
			Value:    volume(&s),
			Writable: true,
			Emit:     prop.EmitTrue,
			Callback: p.onVolume,
		},
		"Position":      {Value: position(&s), Writable: false, Emit: prop.EmitFalse},
		"MinimumRate":   readOnly(1.0),
		"MaximumRate":   readOnly(1.0),
		"CanGoNext":     readOnly(canGoNext(&s)),
		"CanGoPrevious": readOnly(canGoPrevious(&s)),
		"CanPlay":       readOnly(hasSong(&s)),
		"CanPause":      readOnly(hasSong(&s)),
		"CanSeek":       readOnly(hasSong(&s)),
		"CanControl":    {Value: true, Writable: false, Emit: prop.EmitConst},
	}
}
