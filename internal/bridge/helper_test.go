package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// fakeBrowser is an in-process stand-in for the browser-side process:
// an httptest websocket endpoint whose frame handling is scripted per
// test.
type fakeBrowser struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	frames  [][]byte
	onFrame func(ws *websocket.Conn, data []byte)
}

// newFakeBrowser starts the endpoint. onFrame runs for every inbound
// frame; a nil handler answers pings with pongs and swallows the rest.
func newFakeBrowser(t *testing.T, onFrame func(ws *websocket.Conn, data []byte)) *fakeBrowser {
	f := &fakeBrowser{t: t, onFrame: onFrame}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, ws)
		f.mu.Unlock()
		go f.readLoop(ws)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBrowser) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, data)
		handler := f.onFrame
		f.mu.Unlock()

		if handler != nil {
			handler(ws, data)
			continue
		}
		if gjson.GetBytes(data, "type").String() == FrameTypePing {
			f.write(ws, pongFrame)
		}
	}
}

func (f *fakeBrowser) write(ws *websocket.Conn, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteMessage(websocket.TextMessage, data)
}

// url returns the ws:// address of the endpoint.
func (f *fakeBrowser) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// dropAll severs every accepted connection without closing the server.
func (f *fakeBrowser) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.conns {
		_ = ws.Close()
	}
	f.conns = nil
}

// receivedFrames snapshots all frames seen so far.
func (f *fakeBrowser) receivedFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// testConnConfig returns aggressive timings suited to unit tests.
func testConnConfig(url string) ConnConfig {
	return ConnConfig{
		URL:                  url,
		ConnectTimeout:       time.Second,
		HeartbeatInterval:    time.Hour, // tests opt in to heartbeats explicitly
		HeartbeatTimeout:     time.Second,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectMultiplier:  2.0,
		ReconnectMax:         50 * time.Millisecond,
		ReconnectMaxAttempts: 0,
	}
}
