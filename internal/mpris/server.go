package mpris

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"mpdris/internal/player"
)

const (
	busName         = "org.mpris.MediaPlayer2.mpd"
	objectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"

	identity     = "Music Player Daemon"
	desktopEntry = "mpdris"
)

// Options configures the published player
type Options struct {
	// BusNameSuffix is appended to the bus name, for running several instances
	BusNameSuffix string
	// LibraryPath resolves song URIs into xesam:url file URLs
	LibraryPath string
}

// BusName returns the well-known name requested on the session bus
func (o Options) BusName() string {
	if o.BusNameSuffix == "" {
		return busName
	}
	return busName + "." + o.BusNameSuffix
}

// root serves org.mpris.MediaPlayer2. The player cannot be raised or quit.
type root struct{}

func (root) Raise() *dbus.Error { return nil }
func (root) Quit() *dbus.Error { return nil }

// properties wraps prop.Properties so that Position is read live and Volume
// writes are clamped before they are stored
type properties struct {
	*prop.Properties
	state *player.StateManager
}

func (p *properties) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface == playerInterface && property == "Position" {
		s := p.state.Snapshot()
		return dbus.MakeVariant(position(&s)), nil
	}
	return p.Properties.Get(iface, property)
}

func (p *properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	all, err := p.Properties.GetAll(iface)
	if err != nil {
		return nil, err
	}
	if iface == playerInterface {
		s := p.state.Snapshot()
		all["Position"] = dbus.MakeVariant(position(&s))
	}
	return all, nil
}

func (p *properties) Set(iface, property string, value dbus.Variant) *dbus.Error {
	if iface == playerInterface && property == "Volume" {
		if v, ok := value.Value().(float64); ok {
			value = dbus.MakeVariant(float64(volumePercent(v)) / 100)
		}
	}
	return p.Properties.Set(iface, property, value)
}

func rootProperties() map[string]*prop.Prop {
	constant := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Writable: false, Emit: prop.EmitConst}
	}
	return map[string]*prop.Prop{
		"CanQuit":             constant(false),
		"CanRaise":            constant(false),
		"Fullscreen":          constant(false),
		"CanSetFullscreen":    constant(false),
		"HasTrackList":        constant(false),
		"Identity":            constant(identity),
		"DesktopEntry":        constant(desktopEntry),
		"SupportedUriSchemes": constant([]string{}),
		"SupportedMimeTypes":  constant([]string{}),
	}
}

// Server publishes the player on the session bus
type Server struct {
	conn   *dbus.Conn
	player *Player
	state  *player.StateManager
	events <-chan player.StateChanged
	name   string
	logger *logrus.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Serve connects to the session bus, exports the MPRIS interfaces and starts
// forwarding state changes until Close is called
func Serve(ctx context.Context, ctrl Controller, state *player.StateManager, opts Options, logger *logrus.Logger) (*Server, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		conn:   conn,
		state:  state,
		name:   opts.BusName(),
		logger: logger,
		cancel: cancel,
	}

	// subscribe before reading the initial properties so no change is lost
	s.events = state.Subscribe()
	s.player = newPlayer(ctx, ctrl, state, opts.LibraryPath, logger)

	if err := s.export(); err != nil {
		s.shutdown()
		return nil, err
	}

	reply, err := conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("failed to request bus name %s: %w", s.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		s.shutdown()
		return nil, fmt.Errorf("bus name %s is already taken", s.name)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.player.run(ctx, s.events)
	}()

	logger.WithField("bus_name", s.name).Info("MPRIS interface published")
	return s, nil
}

func (s *Server) export() error {
	if err := s.conn.Export(root{}, objectPath, rootInterface); err != nil {
		return fmt.Errorf("failed to export %s: %w", rootInterface, err)
	}
	if err := s.conn.Export(s.player, objectPath, playerInterface); err != nil {
		return fmt.Errorf("failed to export %s: %w", playerInterface, err)
	}

	props, err := prop.Export(s.conn, objectPath, prop.Map{
		rootInterface:   rootProperties(),
		playerInterface: s.player.properties(),
	})
	if err != nil {
		return fmt.Errorf("failed to export properties: %w", err)
	}
	s.player.props = props
	s.player.signals = s.conn

	wrapped := &properties{Properties: props, state: s.state}
	err = s.conn.ExportMethodTable(map[string]interface{}{
		"Get":    wrapped.Get,
		"GetAll": wrapped.GetAll,
		"Set":    wrapped.Set,
	}, objectPath, "org.freedesktop.DBus.Properties")
	if err != nil {
		return fmt.Errorf("failed to export properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootInterface,
				Methods:    introspect.Methods(root{}),
				Properties: props.Introspection(rootInterface),
			},
			{
				Name:       playerInterface,
				Methods:    introspect.Methods(s.player),
				Properties: props.Introspection(playerInterface),
				Signals: []introspect.Signal{{
					Name: "Seeked",
					Args: []introspect.Arg{{Name: "Position", Type: "x"}},
				}},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}
	return nil
}

// SetLibraryPath changes the directory used to build xesam:url
func (s *Server) SetLibraryPath(library string) {
	s.player.setLibraryPath(library)
}

func (s *Server) shutdown() {
	s.cancel()
	s.wg.Wait()
	if s.events != nil {
		// a publisher blocked on a full channel holds the listener lock
		go func() {
			for range s.events {
			}
		}()
		s.state.Unsubscribe(s.events)
	}
	s.conn.Close()
}

// Close releases the bus name and disconnects
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if _, err := s.conn.ReleaseName(s.name); err != nil {
			s.logger.WithError(err).Debug("Failed to release bus name")
		}
		s.shutdown()
	})
}
