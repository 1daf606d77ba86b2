package notify

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"mpdris/internal/player"
)

const (
	appName = "mpdris"

	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = notificationsName + ".Notify"

	// CallTimeout bounds each Notify call so a stuck notification server
	// cannot stall the event stream
	CallTimeout = 5 * time.Second
)

type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Message is the content of one desktop notification
type Message struct {
	Summary string
	Body    string
	Icon    string
}

// MessageFor describes the current song, false when nothing is playing
func MessageFor(s *player.Status) (Message, bool) {
	song := s.CurrentSong
	if song == nil {
		return Message{}, false
	}

	summary := path.Base(song.URI)
	if song.Title != nil && *song.Title != "" {
		summary = *song.Title
	}

	var lines []string
	if len(song.Artists) > 0 {
		lines = append(lines, strings.Join(song.Artists, ", "))
	}
	if song.Album != nil && *song.Album != "" {
		lines = append(lines, *song.Album)
	}

	return Message{
		Summary: summary,
		Body:    strings.Join(lines, "\n"),
		Icon:    song.Cover,
	}, true
}

// Notifier shows a notification whenever a new song starts
type Notifier struct {
	conn    *dbus.Conn
	obj     caller
	state   *player.StateManager
	timeout int32
	logger  *logrus.Logger

	callTimeout time.Duration

	replacesID uint32
	lastSong   *uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to the session bus. timeoutMS is the expiry passed to the
// notification server, -1 for its default.
func New(state *player.StateManager, timeoutMS int, logger *logrus.Logger) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	n := newNotifier(conn.Object(notificationsName, notificationsPath), state, timeoutMS, logger)
	n.conn = conn
	return n, nil
}

func newNotifier(obj caller, state *player.StateManager, timeoutMS int, logger *logrus.Logger) *Notifier {
	return &Notifier{
		obj:         obj,
		state:       state,
		timeout:     int32(timeoutMS),
		logger:      logger,
		callTimeout: CallTimeout,
	}
}

// Start listens for song changes until Close
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	events := n.state.Subscribe()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			go func() {
				for range events {
				}
			}()
			n.state.Unsubscribe(events)
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind == player.SongChanged {
					n.songChanged(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (n *Notifier) songChanged(ctx context.Context) {
	s := n.state.Snapshot()
	id, ok := s.SongID()
	if !ok || (n.lastSong != nil && *n.lastSong == id) {
		return
	}
	n.lastSong = &id

	msg, _ := MessageFor(&s)
	if err := n.Notify(ctx, msg); err != nil {
		n.logger.WithError(err).Warn("Failed to show notification")
	}
}

// Notify shows msg, replacing the previous notification
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()

	call := n.obj.CallWithContext(ctx, notificationsNotify, 0,
		appName,
		n.replacesID,
		msg.Icon,
		msg.Summary,
		msg.Body,
		[]string{},
		map[string]dbus.Variant{},
		n.timeout,
	)
	if call.Err != nil {
		return call.Err
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("failed to read notification id: %w", err)
	}
	n.replacesID = id

	n.logger.WithFields(logrus.Fields{
		"summary": msg.Summary,
		"id":      id,
	}).Debug("Notification shown")
	return nil
}

// Close stops listening and disconnects
func (n *Notifier) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if n.conn != nil {
		n.conn.Close()
	}
}
