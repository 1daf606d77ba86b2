package mpd

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetryDelay is the pause between connection attempts
	DefaultRetryDelay = 3 * time.Second
	// DefaultTimeout bounds command-channel reads and writes
	DefaultTimeout = 10 * time.Second

	greetingPrefix = "OK MPD "
	binaryLimit    = "binarylimit 1024"
)

// Options describe how to reach the backend
type Options struct {
	// Host is a hostname, an IP address or the absolute path of a unix socket
	Host     string
	Port     int
	Password string

	// Retries is the number of reconnect attempts after the first failure,
	// negative for unlimited
	Retries    int
	RetryDelay time.Duration
	// Timeout is the read/write deadline per request, zero for none
	Timeout time.Duration

	Codes CodePolicy
}

// DefaultOptions returns options for a local MPD
func DefaultOptions() Options {
	return Options{
		Host:       "localhost",
		Port:       6600,
		Retries:    -1,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
		Codes:      StrictCodes,
	}
}

func (o Options) network() (string, string) {
	if strings.HasPrefix(o.Host, "/") || strings.HasPrefix(o.Host, "@") {
		return "unix", o.Host
	}
	return "tcp", net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Address returns the dial address for logging
func (o Options) Address() string {
	_, addr := o.network()
	return addr
}

// stream is one established, handshaken socket
type stream struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration
	codes   CodePolicy
	log     *logrus.Entry
}

func (s *stream) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

// roundTrip writes one encoded frame and reads its response
func (s *stream) roundTrip(ctx context.Context, frame []byte) ([]Pair, error) {
	if err := s.conn.SetDeadline(s.deadline(ctx)); err != nil {
		return nil, wrapError(IO, err)
	}
	if _, err := s.writer.Write(frame); err != nil {
		return nil, wrapError(IO, err)
	}
	if err := s.writer.Flush(); err != nil {
		return nil, wrapError(IO, err)
	}
	return ReadResponse(s.reader, s.codes)
}

func (s *stream) close() error {
	return s.conn.Close()
}

// Connection is one logical channel to the backend whose socket can be replaced
// in place. Callers serialize requests; the mutex only guards the swap.
type Connection struct {
	name   string
	logger *logrus.Logger

	mu         sync.Mutex
	opts       Options
	stream     *stream
	generation uint64
	closed     bool
}

// Dial opens a named connection, retrying per opts.Retries
func Dial(ctx context.Context, name string, opts Options, logger *logrus.Logger) (*Connection, error) {
	c := &Connection{
		name:   name,
		logger: logger,
		opts:   opts,
	}

	s, err := c.connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.stream = s
	c.generation = 1
	return c, nil
}

// Options returns the options used by the next reconnect
func (c *Connection) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetOptions replaces the options. The live socket is untouched until Reconnect.
func (c *Connection) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
}

// Generation counts successful connects, so a holder of an old stream can tell
// whether it was replaced
func (c *Connection) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) current() *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Reconnect dials a fresh socket with the current options, swaps it in and
// closes the old one. Reads blocked on the old socket fail. A closed
// connection stays closed.
func (c *Connection) Reconnect(ctx context.Context) error {
	if c.isClosed() {
		return newError(IO, "%s connection is closed", c.name)
	}
	s, err := c.connect(ctx, c.Options())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.close()
		return newError(IO, "%s connection is closed", c.name)
	}
	old := c.stream
	c.stream = s
	c.generation++
	c.mu.Unlock()

	if old != nil {
		_ = old.close()
	}
	return nil
}

// Request sends one command on the current socket, without retry
func (c *Connection) Request(ctx context.Context, command string) ([]Pair, error) {
	frame, err := Encode(command)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, frame)
}

// RequestList sends a command_list batch on the current socket, without retry
func (c *Connection) RequestList(ctx context.Context, commands ...string) ([]Pair, error) {
	frame, err := EncodeList(commands...)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, frame)
}

func (c *Connection) send(ctx context.Context, frame []byte) ([]Pair, error) {
	s := c.current()
	if s == nil {
		return nil, newError(IO, "%s connection is closed", c.name)
	}
	return s.roundTrip(ctx, frame)
}

// Close closes the socket. Later requests fail with an IO error.
func (c *Connection) Close() error {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.closed = true
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.close()
}

func (c *Connection) connect(ctx context.Context, opts Options) (*stream, error) {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	for attempt := 0; ; attempt++ {
		s, err := c.open(ctx, opts)
		if err == nil {
			return s, nil
		}

		logEntry := c.logger.WithError(err).WithFields(logrus.Fields{
			"channel": c.name,
			"address": opts.Address(),
			"attempt": attempt + 1,
		})

		if kind := KindOf(err); kind == InvalidConnection {
			logEntry.Error("Backend is not an MPD server")
			return nil, err
		} else if kind.IsACK() {
			logEntry.Error("MPD rejected the handshake")
			return nil, err
		}
		if opts.Retries >= 0 && attempt >= opts.Retries {
			logEntry.Error("Giving up connecting to MPD")
			return nil, err
		}
		logEntry.WithField("retry_in", delay).Warn("Failed to connect to MPD")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, wrapError(IO, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Connection) open(ctx context.Context, opts Options) (*stream, error) {
	network, addr := opts.network()

	handshakeTimeout := opts.Timeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultTimeout
	}

	dialer := net.Dialer{Timeout: handshakeTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, wrapError(IO, err)
	}

	s := &stream{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		timeout: handshakeTimeout,
		codes:   opts.Codes,
		log: c.logger.WithFields(logrus.Fields{
			"channel": c.name,
			"session": uuid.NewString(),
		}),
	}

	if err := s.handshake(ctx, opts.Password); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// the idle channel waits indefinitely
	s.timeout = opts.Timeout
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, wrapError(IO, err)
	}

	s.log.WithField("address", addr).Info("Connected to MPD")
	return s, nil
}

func (s *stream) handshake(ctx context.Context, password string) error {
	if err := s.conn.SetDeadline(s.deadline(ctx)); err != nil {
		return wrapError(IO, err)
	}

	greeting, err := readLine(s.reader)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(greeting, greetingPrefix) {
		return newError(InvalidConnection, "unexpected greeting %q", greeting)
	}
	s.log.WithField("version", strings.TrimPrefix(greeting, greetingPrefix)).Debug("MPD greeting received")

	// servers older than 0.22.4 do not know binarylimit
	frame, _ := Encode(binaryLimit)
	if _, err := s.roundTrip(ctx, frame); err != nil && KindOf(err) != UnknownCommand {
		return err
	}

	if password != "" {
		frame, err := Encode("password " + Quote(password))
		if err != nil {
			return err
		}
		if _, err := s.roundTrip(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
