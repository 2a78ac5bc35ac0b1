package livereload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/config"
	taskerrors "github.com/conneroisu/assetforge/internal/errors"
)

func testConfig(t *testing.T, proxy string) *config.Config {
	t.Helper()
	root := t.TempDir()
	v := viper.New()
	v.Set("paths.src", filepath.Join(root, "src"))
	v.Set("paths.dist", filepath.Join(root, "dist"))
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", 0)
	v.Set("server.proxy", proxy)
	v.Set("server.open", false)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// nextMessage reads a queued broadcast without running the hub.
func nextMessage(t *testing.T, h *Hub) Message {
	t.Helper()
	select {
	case data := <-h.broadcast:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatal("no message queued")
		return Message{}
	}
}

func assertNoMessage(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case data := <-h.broadcast:
		t.Fatalf("unexpected message %s", data)
	default:
	}
}

func TestInjectScript(t *testing.T) {
	out, err := injectScript([]byte("<html><head></head><body><h1>Hi</h1></body></html>"), clientPath)
	require.NoError(t, err)
	page := string(out)
	assert.Contains(t, page, `<h1>Hi</h1><script src="/__assetforge/client.js" defer=""></script></body>`)

	again, err := injectScript(out, clientPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(again), clientPath))

	fragment, err := injectScript([]byte("<p>fragment"), clientPath)
	require.NoError(t, err)
	assert.Contains(t, string(fragment), clientPath)
}

func TestNotifierChooses(t *testing.T) {
	hub := NewHub(nil)
	n := NewNotifier(hub, nil, true)
	ctx := context.Background()

	n.Changed(ctx, []string{
		filepath.Join("dist", "assets", "css", "main.min.css"),
		filepath.Join("dist", "assets", "css", "main.min.css.map"),
	})
	msg := nextMessage(t, hub)
	assert.Equal(t, MessageCSS, msg.Type)
	assert.Equal(t, []string{"main.min.css"}, msg.Paths)

	n.Changed(ctx, []string{filepath.Join("dist", "index.html")})
	assert.Equal(t, MessageReload, nextMessage(t, hub).Type)

	n.Changed(ctx, []string{
		filepath.Join("dist", "assets", "css", "main.min.css"),
		filepath.Join("dist", "assets", "js", "main.min.js"),
	})
	assert.Equal(t, MessageReload, nextMessage(t, hub).Type)

	n.Changed(ctx, []string{filepath.Join("dist", "page.php")})
	assert.Equal(t, MessageReload, nextMessage(t, hub).Type)

	n.Changed(ctx, nil)
	n.Changed(ctx, []string{"main.min.js.map"})
	n.Changed(ctx, []string{
		filepath.Join("dist", "assets", "fonts", "glyph.woff"),
		filepath.Join("dist", "images", "logo.png"),
	})
	assertNoMessage(t, hub)
}

func TestNotifierErrorOverlay(t *testing.T) {
	hub := NewHub(nil)
	collector := taskerrors.NewCollector()
	n := NewNotifier(hub, collector, true)
	ctx := context.Background()

	te := taskerrors.NewTransformationError("styles", `expected "}" <here>`, nil).
		WithLocation("src/scss/main.scss", 3, 15)
	collector.Add(te)
	n.NotifyError(ctx, te)

	msg := nextMessage(t, hub)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.HTML, "src/scss/main.scss:3:15")
	assert.Contains(t, msg.HTML, "&lt;here&gt;")
	assert.NotContains(t, msg.HTML, "<here>")

	n.Clear(ctx)
	assert.Equal(t, MessageClear, nextMessage(t, hub).Type)

	quiet := NewNotifier(hub, nil, false)
	quiet.NotifyError(ctx, te)
	quiet.Clear(ctx)
	assertNoMessage(t, hub)
}

func TestHubDeliversBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Message{Type: MessageReload})

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reload"}`, string(data))

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStaticServingInjectsClient(t *testing.T) {
	cfg := testConfig(t, "")
	writeFile(t, filepath.Join(cfg.Paths.Dist, "index.html"), "<html><body>home</body></html>")
	writeFile(t, filepath.Join(cfg.Paths.Dist, "pages", "about.html"), "<html><body>about</body></html>")
	writeFile(t, filepath.Join(cfg.Paths.CSSOut, "main.min.css"), "a{color:red}")

	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		path     string
		contains string
		inject   bool
	}{
		{"/", "home", true},
		{"/pages/about.html", "about", true},
		{"/assets/css/main.min.css", "a{color:red}", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), tt.contains)
			assert.Equal(t, tt.inject, strings.Contains(string(body), clientPath))
		})
	}

	resp, err := http.Get(srv.URL + "/missing.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyInjectsIntoHTMLOnly(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
		switch r.URL.Path {
		case "/api":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":true}`)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, "<html><body>from php</body></html>")
		}
	}))
	defer backend.Close()

	cfg := testConfig(t, strings.TrimPrefix(backend.URL, "http://"))
	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/index.php", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "from php")
	assert.Contains(t, string(body), clientPath)
	assert.Equal(t, int64(len(body)), resp.ContentLength)

	resp, err = http.Get(srv.URL + "/api")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestProxyReportsUnavailableBackend(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(backend.URL, "http://")
	backend.Close()

	cfg := testConfig(t, addr)
	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestClientAndStatusEndpoints(t *testing.T) {
	cfg := testConfig(t, "")
	collector := taskerrors.NewCollector()
	collector.Add(taskerrors.NewTransformationError("styles", "bad", nil).WithLocation("main.scss", 2, 1))

	s, err := New(cfg, nil, collector, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + clientPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "application/javascript; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "/__assetforge/ws")

	resp, err = http.Get(srv.URL + statusPath)
	require.NoError(t, err)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, 0, status.Clients)
	assert.Equal(t, cfg.Paths.Dist, status.Root)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, StatusError{Task: "styles", File: "main.scss", Line: 2, Column: 1, Message: "bad"}, status.Errors[0])

	resp, err = http.Get(srv.URL + healthPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStartBindsBeforeReturning(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Server.Open = true
	writeFile(t, filepath.Join(cfg.Paths.Dist, "index.html"), "<html><body>ok</body></html>")

	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	opened := make(chan string, 1)
	s.open = func(url string) error {
		opened <- url
		return nil
	}

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	resp, err := http.Get(s.URL() + healthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case url := <-opened:
		assert.Equal(t, s.URL(), url)
	case <-time.After(2 * time.Second):
		t.Fatal("browser was not opened")
	}

	require.NoError(t, s.Shutdown(context.Background()))
	_, err = http.Get(s.URL() + healthPath)
	assert.Error(t, err)
}

func TestStartFailsWhenPortIsTaken(t *testing.T) {
	taken := httptest.NewServer(http.NotFoundHandler())
	defer taken.Close()

	cfg := testConfig(t, "")
	_, port, _ := strings.Cut(strings.TrimPrefix(taken.URL, "http://"), ":")
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Server.Port = n

	s, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}
