package mpd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"mpdris/internal/player"
)

const (
	// PingInterval keeps the command connection from hitting the server's
	// connection_timeout
	PingInterval = 15 * time.Second

	commandChannel = "command"
	idleChannel    = "idle"
)

// Client owns the command and idle connections to MPD and keeps the shared
// status in sync with the backend.
//
// Locks are always taken in the order reconnectMu, cmdMu, idleMu, refreshMu,
// then the state manager's own lock.
type Client struct {
	logger *logrus.Logger
	state  *player.StateManager
	covers CoverResolver

	cmd  *Connection
	idle *Connection

	reconnectMu sync.Mutex
	cmdMu       sync.Mutex
	idleMu      sync.Mutex
	refreshMu   sync.Mutex

	// interrupt takes the idle loop off the idle connection. A reconnect sends
	// twice: once to release idleMu, once when the new sockets are in place.
	interrupt chan struct{}
	running   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New connects both channels and loads the initial status. covers may be nil.
func New(ctx context.Context, opts Options, state *player.StateManager, covers CoverResolver, logger *logrus.Logger) (*Client, error) {
	cmd, err := Dial(ctx, commandChannel, opts, logger)
	if err != nil {
		return nil, err
	}

	idle, err := Dial(ctx, idleChannel, idleOptions(opts), logger)
	if err != nil {
		_ = cmd.Close()
		return nil, err
	}

	c := &Client{
		logger:    logger,
		state:     state,
		covers:    covers,
		cmd:       cmd,
		idle:      idle,
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.UpdateStatus(ctx); err != nil {
		c.closeConnections()
		return nil, err
	}
	return c, nil
}

func idleOptions(opts Options) Options {
	opts.Timeout = 0
	return opts
}

// Start runs the idle loop and the keepalive until ctx ends or Close is called
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.running.Store(true)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		c.idleLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop(ctx)
	}()
}

// Close stops the background goroutines and closes both sockets
func (c *Client) Close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	if c.cancel != nil {
		c.cancel()
	}
	// unblocks the idle read
	c.closeConnections()
	c.wg.Wait()
}

func (c *Client) closeConnections() {
	if err := c.cmd.Close(); err != nil {
		c.logger.WithError(err).WithField("channel", commandChannel).Debug("Error closing connection")
	}
	if err := c.idle.Close(); err != nil {
		c.logger.WithError(err).WithField("channel", idleChannel).Debug("Error closing connection")
	}
}

// State returns the shared state manager
func (c *Client) State() *player.StateManager {
	return c.state
}

// Request sends one command, reconnecting and retrying once on transport failure
func (c *Client) Request(ctx context.Context, command string) ([]Pair, error) {
	frame, err := Encode(command)
	if err != nil {
		return nil, err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.requestLocked(ctx, frame, command)
}

// RequestList sends a command_list batch with the same retry policy as Request
func (c *Client) RequestList(ctx context.Context, commands ...string) ([]Pair, error) {
	frame, err := EncodeList(commands...)
	if err != nil {
		return nil, err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.requestLocked(ctx, frame, listBegin)
}

func (c *Client) requestLocked(ctx context.Context, frame []byte, command string) ([]Pair, error) {
	pairs, err := c.cmd.send(ctx, frame)
	if err == nil || !IsTransient(err) {
		return pairs, err
	}

	c.logger.WithError(err).WithFields(logrus.Fields{
		"channel": commandChannel,
		"command": command,
	}).Warn("Request failed, reconnecting")

	if err := c.cmd.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c.cmd.send(ctx, frame)
}

// commandRequester runs reconciler queries on the command channel while the
// caller already holds cmdMu
type commandRequester struct {
	c *Client
}

func (r commandRequester) Request(ctx context.Context, command string) ([]Pair, error) {
	frame, err := Encode(command)
	if err != nil {
		return nil, err
	}
	return r.c.requestLocked(ctx, frame, command)
}

// UpdateStatus refreshes the shared status over the command channel and
// publishes the resulting events
func (c *Client) UpdateStatus(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	_, err := c.refresh(ctx, commandRequester{c: c})
	return err
}

// refresh reconciles and applies the status. Events go out after every lock
// below refreshMu has been released.
func (c *Client) refresh(ctx context.Context, conn Requester) (bool, error) {
	c.refreshMu.Lock()
	old := c.state.Snapshot()
	next, events, couldBeSeeking, err := Reconcile(ctx, conn, old, c.covers)
	if err != nil {
		c.refreshMu.Unlock()
		return false, err
	}
	c.state.Apply(next)
	c.refreshMu.Unlock()

	if len(events) > 0 {
		c.logger.WithField("events", events).Debug("Status changed")
	}
	c.state.Publish(events...)
	return couldBeSeeking, nil
}

// Reconfigure replaces the connection options. They take effect on the next
// reconnect.
func (c *Client) Reconfigure(opts Options) {
	c.cmd.SetOptions(opts)
	c.idle.SetOptions(idleOptions(opts))
}

// Reconnect rebuilds both connections. The idle loop is interrupted first so
// it gives up the idle connection, and resumed once both sockets are new.
func (c *Client) Reconnect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	select {
	case <-c.done:
		return newError(IO, "client is closed")
	default:
	}

	if !c.signal(ctx) {
		return ctx.Err()
	}

	c.cmdMu.Lock()
	c.idleMu.Lock()
	cmdErr := c.cmd.Reconnect(ctx)
	idleErr := c.idle.Reconnect(ctx)
	c.idleMu.Unlock()
	c.cmdMu.Unlock()

	c.signal(ctx)

	if err := errors.Join(cmdErr, idleErr); err != nil {
		return err
	}
	c.logger.WithField("address", c.cmd.Options().Address()).Info("Reconnected to MPD")
	return nil
}

func (c *Client) signal(ctx context.Context) bool {
	if !c.running.Load() {
		return true
	}
	select {
	case c.interrupt <- struct{}{}:
		return true
	case <-c.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Request(ctx, "ping"); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).WithField("channel", commandChannel).Warn("Ping failed")
			}
		}
	}
}
