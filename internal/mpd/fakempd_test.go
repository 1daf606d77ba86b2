package mpd

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// noReply leaves the request unanswered
	noReply = "\x00noreply"
	// hangUp closes the connection instead of answering
	hangUp = "\x00hangup"
)

// handlerFunc answers one request. session counts accepted connections from 1.
// A command list arrives as its commands joined by newlines.
type handlerFunc func(session int, command string) string

// fakeMPD is a scripted in-process MPD server
type fakeMPD struct {
	listener net.Listener
	handler  handlerFunc
	greeting string

	mu       sync.Mutex
	sessions int
	requests []string
	conns    []net.Conn
}

func newFakeMPD(t *testing.T, handler handlerFunc) *fakeMPD {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	f := &fakeMPD{
		listener: listener,
		handler:  handler,
		greeting: "OK MPD 0.23.5",
	}
	go f.accept()
	t.Cleanup(f.close)
	return f
}

func (f *fakeMPD) options() Options {
	addr := f.listener.Addr().(*net.TCPAddr)
	return Options{
		Host:       "127.0.0.1",
		Port:       addr.Port,
		Retries:    0,
		RetryDelay: 10 * time.Millisecond,
		Timeout:    2 * time.Second,
	}
}

func (f *fakeMPD) accept() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.sessions++
		session := f.sessions
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		go f.serve(session, conn)
	}
}

func (f *fakeMPD) serve(session int, conn net.Conn) {
	defer conn.Close()

	f.mu.Lock()
	greeting := f.greeting
	f.mu.Unlock()

	if _, err := io.WriteString(conn, greeting+"\n"); err != nil {
		return
	}

	r := bufio.NewReader(conn)
	var batch []string
	inList := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")

		switch {
		case line == listBegin:
			inList = true
			batch = nil
			continue
		case inList && line != listEnd:
			batch = append(batch, line)
			continue
		case line == listEnd:
			inList = false
			line = strings.Join(batch, "\n")
		}

		f.mu.Lock()
		f.requests = append(f.requests, line)
		f.mu.Unlock()

		reply := "OK\n"
		if line != binaryLimit && line != "ping" {
			reply = f.handler(session, line)
		}

		switch reply {
		case noReply:
			continue
		case hangUp:
			return
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (f *fakeMPD) setGreeting(greeting string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greeting = greeting
}

// count returns how often a command was received
func (f *fakeMPD) count(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if r == command {
			n++
		}
	}
	return n
}

func (f *fakeMPD) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *fakeMPD) close() {
	_ = f.listener.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_ = conn.Close()
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// statusReply renders a status response
func statusReply(pairs ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		sb.WriteString(pairs[i])
		sb.WriteString(": ")
		sb.WriteString(pairs[i+1])
		sb.WriteByte('\n')
	}
	sb.WriteString("OK\n")
	return sb.String()
}
