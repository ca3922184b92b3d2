package main

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

// newTestApp creates a valid application instance for use in tests.
// This centralizes the setup logic.
func newTestApp(t *testing.T) *application {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config{
		port:             0, // Use a random free port
		maxConnections:   10,
		defaultPrecision: loglogbeta.DefaultPrecision,
	}

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       NewStore(),
		readyCh:     make(chan struct{}),
		connLimiter: make(chan struct{}, cfg.maxConnections),
		startTime:   time.Now(),
	}
	app.metrics = NewMetrics(func() float64 { return float64(app.store.Len()) })
	app.router = app.commands()

	return app
}

// startTestServer runs app.serve in the background and returns the
// listener address once the server is accepting connections.
func startTestServer(t *testing.T, app *application) string {
	t.Helper()

	go func() { _ = app.serve() }()
	<-app.readyCh
	t.Cleanup(func() { _ = app.listener.Close() })

	return app.listener.Addr().String()
}

// TestPingServer ensures the PING command works end to end.
func TestPingServer(t *testing.T) {
	app := newTestApp(t)
	addr := startTestServer(t, app)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		t.Fatalf("failed to write PING: %v", err)
	}
	response, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	expected := "+PONG\r\n"
	if response != expected {
		t.Errorf("unexpected response: got %q, want %q", response, expected)
	}
}

// TestUnknownCommand verifies the router rejects commands it doesn't know.
func TestUnknownCommand(t *testing.T) {
	app := newTestApp(t)
	addr := startTestServer(t, app)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("BOGUS a b\r\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	response, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	expected := "-ERR unknown command 'BOGUS'\r\n"
	if response != expected {
		t.Errorf("unexpected response: got %q, want %q", response, expected)
	}
}

// TestPipelinedCommands sends several commands in a single write and
// expects all responses back. This exercises the smart flush path.
func TestPipelinedCommands(t *testing.T) {
	app := newTestApp(t)
	addr := startTestServer(t, app)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte("PING\r\nPING\r\nPING\r\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader := bufio.NewReader(conn)
	for i := 0; i < 3; i++ {
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if response != "+PONG\r\n" {
			t.Errorf("response %d: got %q, want %q", i, response, "+PONG\r\n")
		}
	}
}

// TestConnectionLimiter verifies that the server correctly limits the
// number of concurrent connections.
func TestConnectionLimiter(t *testing.T) {
	app := newTestApp(t)
	app.config.maxConnections = 1
	app.connLimiter = make(chan struct{}, 1)

	addr := startTestServer(t, app)

	// Use up the single connection slot.
	hogConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to make the first connection: %v", err)
	}
	defer func() { _ = hogConn.Close() }()

	// Give the server a moment to process the connection.
	time.Sleep(50 * time.Millisecond)

	// The next connection must be rejected.
	secondConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("second connection dial failed unexpectedly: %v", err)
	}
	defer func() { _ = secondConn.Close() }()

	reader := bufio.NewReader(secondConn)
	response, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read from second connection: %v", err)
	}

	if response != errMaxConnectionsResponse {
		t.Errorf("unexpected response from rejected connection: got %q, want %q", response, errMaxConnectionsResponse)
	}

	// The first connection must still be alive: rejecting the second
	// one must not kill the server.
	if _, err := hogConn.Write([]byte("PING\r\n")); err != nil {
		t.Fatal("first connection is dead after second was rejected")
	}

	hogReader := bufio.NewReader(hogConn)
	if _, err := hogReader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read PONG from first connection: %v", err)
	}
}

// TestCompactCommand exercises COMPACT over the wire, including the
// single-flight guard.
func TestCompactCommand(t *testing.T) {
	app := newTestApp(t)

	tmpFile := t.TempDir() + "/journal.aof"
	app.config.aofFilename = tmpFile

	var err error
	app.aof, err = NewAOF(tmpFile)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = app.aof.Close() }()

	addr := startTestServer(t, app)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	sendCommand := func(cmd string) string {
		t.Helper()
		if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
			t.Fatalf("failed to write command %q: %v", cmd, err)
		}
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read response for %q: %v", cmd, err)
		}
		return response
	}

	t.Run("basic compact", func(t *testing.T) {
		sendCommand("LLB.ADD compact_key value1 value2")

		resp := sendCommand("COMPACT")
		if resp != "+OK\r\n" {
			t.Errorf("expected +OK, got %q", resp)
		}

		if app.isRewriting.Load() {
			t.Error("isRewriting should be false after compaction completes")
		}
	})

	t.Run("already in progress", func(t *testing.T) {
		app.isRewriting.Store(true)
		defer app.isRewriting.Store(false)

		resp := sendCommand("COMPACT")
		if resp != "-ERR compaction already in progress\r\n" {
			t.Errorf("expected in-progress error, got %q", resp)
		}
	})
}
