package mpd

import (
	"context"
	"net"
	"testing"
	"time"
)

func okHandler(int, string) string { return "OK\n" }

func TestDialHandshake(t *testing.T) {
	server := newFakeMPD(t, func(_ int, command string) string {
		if command == "status" {
			return statusReply("volume", "30", "state", "play")
		}
		return "OK\n"
	})

	conn, err := Dial(context.Background(), "command", server.options(), testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if server.count(binaryLimit) != 1 {
		t.Errorf("binarylimit sent %d times, want 1", server.count(binaryLimit))
	}

	pairs, err := conn.Request(context.Background(), "status")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if len(pairs) != 2 || pairs[0].Value != "30" {
		t.Errorf("Request() = %v", pairs)
	}
}

func TestDialSendsPassword(t *testing.T) {
	server := newFakeMPD(t, okHandler)
	opts := server.options()
	opts.Password = "s3cret"

	conn, err := Dial(context.Background(), "command", opts, testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if server.count(`password "s3cret"`) != 1 {
		t.Error("password was not sent after the handshake")
	}
}

func TestDialRejectsWrongPeer(t *testing.T) {
	server := newFakeMPD(t, okHandler)
	server.setGreeting("SSH-2.0-OpenSSH_9.6")
	opts := server.options()
	opts.Retries = 3

	_, err := Dial(context.Background(), "command", opts, testLogger())
	if KindOf(err) != InvalidConnection {
		t.Fatalf("Dial() error = %v, want InvalidConnection", err)
	}
	if server.sessionCount() != 1 {
		t.Errorf("handshake failure was retried: %d sessions", server.sessionCount())
	}
}

func closedAddress(t *testing.T) Options {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	return Options{
		Host:       "127.0.0.1",
		Port:       port,
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestDialRetriesExhausted(t *testing.T) {
	opts := closedAddress(t)
	opts.Retries = 2

	_, err := Dial(context.Background(), "command", opts, testLogger())
	if KindOf(err) != IO {
		t.Fatalf("Dial() error = %v, want IO", err)
	}
}

func TestDialCancelledWhileWaiting(t *testing.T) {
	opts := closedAddress(t)
	opts.Retries = -1
	opts.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Dial(ctx, "command", opts, testLogger())
	if err == nil {
		t.Fatal("Dial() succeeded against a closed port")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Dial() ignored cancellation for %v", elapsed)
	}
}

func TestReconnectReplacesStream(t *testing.T) {
	server := newFakeMPD(t, okHandler)

	conn, err := Dial(context.Background(), "command", server.options(), testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	old := conn.current()
	generation := conn.Generation()

	if err := conn.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}

	if conn.Generation() != generation+1 {
		t.Errorf("Generation() = %d, want %d", conn.Generation(), generation+1)
	}
	if conn.current() == old {
		t.Error("stream was not replaced")
	}
	if _, err := old.roundTrip(context.Background(), []byte("ping\n")); err == nil {
		t.Error("old stream still usable after reconnect")
	}
	if server.sessionCount() != 2 {
		t.Errorf("sessions = %d, want 2", server.sessionCount())
	}
}

func TestCommandTimeout(t *testing.T) {
	server := newFakeMPD(t, func(_ int, command string) string {
		return noReply
	})
	opts := server.options()
	opts.Timeout = 50 * time.Millisecond

	conn, err := Dial(context.Background(), "command", opts, testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Request(context.Background(), "status"); KindOf(err) != IO {
		t.Errorf("Request() error = %v, want IO timeout", err)
	}
}

func TestClosedConnection(t *testing.T) {
	server := newFakeMPD(t, okHandler)

	conn, err := Dial(context.Background(), "command", server.options(), testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	if _, err := conn.Request(context.Background(), "status"); KindOf(err) != IO {
		t.Errorf("Request() on closed connection error = %v, want IO", err)
	}
}

func TestClosedConnectionStaysClosed(t *testing.T) {
	server := newFakeMPD(t, okHandler)

	conn, err := Dial(context.Background(), "idle", server.options(), testLogger())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	if err := conn.Reconnect(context.Background()); KindOf(err) != IO {
		t.Errorf("Reconnect() after Close() error = %v, want IO", err)
	}
	if conn.current() != nil {
		t.Error("closed connection got a new stream")
	}
	if server.sessionCount() != 1 {
		t.Errorf("sessions = %d, want 1", server.sessionCount())
	}
}
