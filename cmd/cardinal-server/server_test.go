package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// newTestApp creates a valid application instance for tests, listening on
// a random free port with persistence disabled.
func newTestApp(t *testing.T) *application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config{
		port:             0,
		maxConnections:   10,
		defaultPrecision: 14,
	}

	store := NewStore()
	app := &application{
		config:      cfg,
		logger:      logger,
		store:       store,
		metrics:     NewMetrics(store),
		readyCh:     make(chan struct{}),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.router = app.commands()

	return app
}

// startServer runs the app's accept loop and returns a connected client
// with a command helper.
func startServer(t *testing.T, app *application) (net.Conn, func(cmd string) string) {
	t.Helper()

	go func() { _ = app.serve() }()
	<-app.readyCh
	t.Cleanup(func() { _ = app.listener.Close() })

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

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
		// Bulk strings carry a payload after the $len header line.
		if strings.HasPrefix(response, "$") && response != "$-1\r\n" {
			n, err := strconv.Atoi(strings.TrimSpace(response[1:]))
			if err != nil {
				t.Fatalf("bad bulk header %q: %v", response, err)
			}
			body := make([]byte, n+2)
			if _, err := io.ReadFull(reader, body); err != nil {
				t.Fatalf("failed to read bulk body: %v", err)
			}
			return string(body[:n])
		}
		return response
	}

	return conn, sendCommand
}

// parseInt extracts the value from a RESP integer reply.
func parseInt(t *testing.T, response string) int64 {
	t.Helper()
	if !strings.HasPrefix(response, ":") {
		t.Fatalf("expected integer reply, got %q", response)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(response[1:]), 10, 64)
	if err != nil {
		t.Fatalf("bad integer reply %q: %v", response, err)
	}
	return n
}

func TestPingServer(t *testing.T) {
	app := newTestApp(t)
	_, sendCommand := startServer(t, app)

	if got := sendCommand("PING"); got != "+PONG\r\n" {
		t.Errorf("unexpected response: got %q, want +PONG", got)
	}
}

func TestConnectionLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config{port: 0, maxConnections: 1, defaultPrecision: 14}
	store := NewStore()
	app := &application{
		config:      cfg,
		logger:      logger,
		store:       store,
		metrics:     NewMetrics(store),
		readyCh:     make(chan struct{}),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.router = app.commands()

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()
	serverAddr := app.listener.Addr().String()

	hogConn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		t.Fatalf("failed to make the first connection: %v", err)
	}
	defer func() { _ = hogConn.Close() }()

	// Give the server a moment to claim the slot.
	time.Sleep(50 * time.Millisecond)

	secondConn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		t.Fatalf("second connection dial failed unexpectedly: %v", err)
	}
	defer func() { _ = secondConn.Close() }()

	reader := bufio.NewReader(secondConn)
	response, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read from second connection: %v", err)
	}
	if response != "ERR max number of clients reached\n" {
		t.Errorf("unexpected rejection response: %q", response)
	}

	// The surviving connection must still work.
	if _, err := hogConn.Write([]byte("PING\r\n")); err != nil {
		t.Fatal("first connection is dead after second was rejected")
	}
	hogReader := bufio.NewReader(hogConn)
	if _, err := hogReader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read PONG from first connection: %v", err)
	}
}

func TestSketchCommands(t *testing.T) {
	app := newTestApp(t)
	_, sendCommand := startServer(t, app)

	t.Run("add and count", func(t *testing.T) {
		if got := sendCommand("SK.ADD visitors alice bob carol"); got != ":1\r\n" {
			t.Errorf("SK.ADD on fresh key: %q, want :1", got)
		}

		count := parseInt(t, sendCommand("SK.COUNT visitors"))
		if count < 2 || count > 4 {
			t.Errorf("count %d for 3 distinct items", count)
		}

		// Re-adding the same items changes nothing.
		if got := sendCommand("SK.ADD visitors alice bob carol"); got != ":0\r\n" {
			t.Errorf("SK.ADD of known items: %q, want :0", got)
		}
	})

	t.Run("count of missing key is zero", func(t *testing.T) {
		if got := parseInt(t, sendCommand("SK.COUNT nothere")); got != 0 {
			t.Errorf("missing key counted %d", got)
		}
	})

	t.Run("multi key count unions", func(t *testing.T) {
		sendCommand("SK.ADD page:a u1 u2 u3")
		sendCommand("SK.ADD page:b u3 u4 u5")

		count := parseInt(t, sendCommand("SK.COUNT page:a page:b"))
		if count < 4 || count > 6 {
			t.Errorf("union count %d for 5 distinct items", count)
		}
	})

	t.Run("create with variant and precision", func(t *testing.T) {
		if got := sendCommand("SK.CREATE precise ULL 16"); got != "+OK\r\n" {
			t.Fatalf("SK.CREATE: %q", got)
		}
		if got := sendCommand("SK.CREATE precise"); !strings.HasPrefix(got, "-ERR key already exists") {
			t.Errorf("duplicate create: %q", got)
		}

		info := sendCommand("SK.INFO precise")
		if !strings.Contains(info, "variant:ull") || !strings.Contains(info, "precision:16") {
			t.Errorf("SK.INFO output missing fields: %q", info)
		}
	})

	t.Run("create rejects bad parameters", func(t *testing.T) {
		if got := sendCommand("SK.CREATE bad XLL"); !strings.HasPrefix(got, "-ERR unknown sketch variant") {
			t.Errorf("bad variant: %q", got)
		}
		if got := sendCommand("SK.CREATE bad HLL 3"); !strings.HasPrefix(got, "-ERR") {
			t.Errorf("bad precision: %q", got)
		}
	})

	t.Run("merge", func(t *testing.T) {
		sendCommand("SK.ADD m:a x1 x2 x3")
		sendCommand("SK.ADD m:b x4 x5")

		if got := sendCommand("SK.MERGE m:dst m:a m:b"); got != "+OK\r\n" {
			t.Fatalf("SK.MERGE: %q", got)
		}
		count := parseInt(t, sendCommand("SK.COUNT m:dst"))
		if count < 4 || count > 6 {
			t.Errorf("merged count %d for 5 distinct items", count)
		}

		// Sources are untouched.
		if got := parseInt(t, sendCommand("SK.COUNT m:a")); got < 2 || got > 4 {
			t.Errorf("source count %d after merge", got)
		}
	})

	t.Run("merge precision mismatch", func(t *testing.T) {
		sendCommand("SK.CREATE mp:low HLL 10")
		sendCommand("SK.ADD mp:low a")
		sendCommand("SK.CREATE mp:high HLL 14")
		sendCommand("SK.ADD mp:high b")

		if got := sendCommand("SK.MERGE mp:low mp:high"); !strings.HasPrefix(got, "-ERR") {
			t.Errorf("cross-precision merge: %q", got)
		}
	})

	t.Run("info on missing key", func(t *testing.T) {
		if got := sendCommand("SK.INFO ghost"); got != "$-1\r\n" {
			t.Errorf("SK.INFO on missing key: %q", got)
		}
	})

	t.Run("reset", func(t *testing.T) {
		sendCommand("SK.ADD r:k a b c")
		if got := parseInt(t, sendCommand("SK.RESET r:k")); got != 1 {
			t.Errorf("SK.RESET existing key returned %d", got)
		}
		if got := parseInt(t, sendCommand("SK.COUNT r:k")); got != 0 {
			t.Errorf("count %d after reset", got)
		}
		if got := parseInt(t, sendCommand("SK.RESET r:ghost")); got != 0 {
			t.Errorf("SK.RESET missing key returned %d", got)
		}
	})

	t.Run("del", func(t *testing.T) {
		sendCommand("SK.ADD d:k a")
		if got := parseInt(t, sendCommand("DEL d:k d:ghost")); got != 1 {
			t.Errorf("DEL returned %d, want 1", got)
		}
		if got := parseInt(t, sendCommand("SK.COUNT d:k")); got != 0 {
			t.Errorf("deleted key counted %d", got)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		app.store.Set("plain", []byte("not a sketch"))
		if got := sendCommand("SK.COUNT plain"); !strings.HasPrefix(got, "-WRONGTYPE") {
			t.Errorf("SK.COUNT on non-sketch: %q", got)
		}
		if got := sendCommand("SK.ADD plain item"); !strings.HasPrefix(got, "-WRONGTYPE") {
			t.Errorf("SK.ADD on non-sketch: %q", got)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		if got := sendCommand("SK.BOGUS key"); !strings.HasPrefix(got, "-ERR unknown command") {
			t.Errorf("unknown command: %q", got)
		}
	})
}

func TestSketchCommandsRESPArrayForm(t *testing.T) {
	app := newTestApp(t)
	conn, _ := startServer(t, app)

	// The standard client format: an array of bulk strings.
	cmd := "*3\r\n$6\r\nSK.ADD\r\n$4\r\nresp\r\n$5\r\nitem1\r\n"
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.Fatal(err)
	}
	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if response != ":1\r\n" {
		t.Errorf("RESP array SK.ADD: %q, want :1", response)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.crd")

	app := newTestApp(t)
	app.config.snapshotPath = path
	_, sendCommand := startServer(t, app)

	for i := 0; i < 50; i++ {
		sendCommand(fmt.Sprintf("SK.ADD persisted item-%d", i))
	}
	wantCount := parseInt(t, sendCommand("SK.COUNT persisted"))

	if got := sendCommand("SAVE"); got != "+OK\r\n" {
		t.Fatalf("SAVE: %q", got)
	}

	// A fresh application loading the snapshot must see the same state.
	reloaded := newTestApp(t)
	reloaded.config.snapshotPath = path
	if err := reloaded.loadSnapshot(); err != nil {
		t.Fatalf("load: %v", err)
	}

	_, sendCommand2 := startServer(t, reloaded)
	if got := parseInt(t, sendCommand2("SK.COUNT persisted")); got != wantCount {
		t.Errorf("count %d after reload, want %d", got, wantCount)
	}
}

func TestSaveWithoutPath(t *testing.T) {
	app := newTestApp(t)
	_, sendCommand := startServer(t, app)

	if got := sendCommand("SAVE"); !strings.HasPrefix(got, "-ERR snapshots are disabled") {
		t.Errorf("SAVE without path: %q", got)
	}
}

func TestInfoCommand(t *testing.T) {
	app := newTestApp(t)
	_, sendCommand := startServer(t, app)

	sendCommand("SK.ADD infokey a b")
	info := sendCommand("INFO")

	if !strings.Contains(info, "connections_total:") {
		t.Errorf("INFO missing connections_total: %q", info)
	}
	if !strings.Contains(info, "keys:1") {
		t.Errorf("INFO missing keys count: %q", info)
	}
}
