package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/Maiori44/tmatebot/command"
	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/manager"
	"github.com/Maiori44/tmatebot/process"
	"github.com/Maiori44/tmatebot/session"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

const testPassword = "hunter2"

type fixture struct {
	srv     *httptest.Server
	manager *manager.Manager
	hub     *display.Hub
	spawner *process.FakeSpawner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	hub := display.NewHub()
	spawner := &process.FakeSpawner{}
	m := manager.New(nil, manager.Options{Spawner: spawner, Sink: hub, CloseGrace: 50 * time.Millisecond})
	auth := command.NewAuthorizer([]string{"alice"}, string(hash))
	bot := command.NewBot(m, hub, auth, command.Options{MaxTimeout: 24 * time.Hour})

	srv := httptest.NewServer(New(bot, m, hub, auth).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.Shutdown(context.Background())
	})
	return &fixture{srv: srv, manager: m, hub: hub, spawner: spawner}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/interactions", "alice",
		`{"id":"login","password":"`+testPassword+`","timeout":"1h"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	body := decode[reply](t, resp)
	if body.Surface == "" {
		t.Fatal("login returned no surface")
	}
	return body.Surface
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["sessions"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestRequireUser(t *testing.T) {
	f := newFixture(t)

	if resp := f.do(t, http.MethodGet, "/api/v1/sessions", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no user: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/sessions", "mallory", ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("unknown user: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/sessions", "alice", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("header user: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/sessions?user=alice", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("query user outside websocket: status = %d", resp.StatusCode)
	}
}

func TestCrossSiteFormPostRejected(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	tests := []struct {
		name        string
		path        string
		user        string
		contentType string
		want        int
	}{
		{"query user", "/api/v1/messages?user=alice", "", "text/plain", http.StatusUnauthorized},
		{"text/plain body", "/api/v1/messages", "alice", "text/plain", http.StatusUnsupportedMediaType},
		{"form body", "/api/v1/interactions", "alice", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, f.srv.URL+tt.path,
				strings.NewReader(`{"content":"closeall","id":"Close","x":"="}`))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			req.Header.Set("Content-Type", tt.contentType)
			req.Header.Set("Origin", "https://evil.example")
			if tt.user != "" {
				req.Header.Set(UserHeader, tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
	if n := f.manager.Registry().Len(); n != 1 {
		t.Errorf("registry has %d sessions after rejected posts, want 1", n)
	}
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/messages", "alice", `{"content":"list"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[reply](t, resp); body.Content != "There are no open connections." {
		t.Errorf("content = %q", body.Content)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/messages", "alice", `{"content":"nope"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown command status = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/messages", "alice", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestLoginErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/interactions", "alice", `{"id":"login","password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", resp.StatusCode)
	}
	if body := decode[reply](t, resp); body.Content != "Wrong password." || body.Error == "" {
		t.Errorf("body = %+v", body)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/interactions", "alice",
		`{"id":"login","password":"`+testPassword+`","timeout":"soon"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad timeout status = %d", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.login(t)

	sessions := decode[[]session.Info](t, f.do(t, http.MethodGet, "/api/v1/sessions", "alice", ""))
	if len(sessions) != 1 || sessions[0].ID != id || sessions[0].Creator != "alice" {
		t.Fatalf("sessions = %+v", sessions)
	}

	menu := decode[manager.Menu](t, f.do(t, http.MethodGet, "/api/v1/menu", "alice", ""))
	if len(menu.Options) != 1 || menu.Options[0].Value != id {
		t.Errorf("menu = %+v", menu)
	}

	frame := decode[display.Frame](t, f.do(t, http.MethodGet, "/api/v1/surfaces/"+id, "alice", ""))
	if frame.SurfaceID != id {
		t.Errorf("frame = %+v", frame)
	}

	if resp := f.do(t, http.MethodDelete, "/api/v1/surfaces/"+id, "alice", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("discard live surface status = %d", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "alice", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "alice", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close status = %d", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, "/api/v1/surfaces/"+id, "alice", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("discard status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/surfaces/"+id, "alice", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("discarded surface status = %d", resp.StatusCode)
	}
}

func TestCloseAllSessions(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)
	second := f.login(t)

	resp := f.do(t, http.MethodDelete, "/api/v1/sessions", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	report := decode[reportJSON](t, resp)
	if len(report.Outcomes) != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	for _, id := range []string{first, second} {
		if !strings.Contains(report.Summary, "**`"+id+"`** was closed successfully.") {
			t.Errorf("summary missing %s:\n%s", id, report.Summary)
		}
	}
	if !f.manager.Registry().IsEmpty() {
		t.Error("registry should be empty")
	}
}

func TestWebsocketStreamsSurface(t *testing.T) {
	f := newFixture(t)
	id := f.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/surfaces/" + id + "?user=alice"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := f.spawner.Last().Print("hello from tmate\n"); err != nil {
		t.Fatalf("print: %v", err)
	}
	for {
		var frame display.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.Contains(frame.Text, "hello from tmate") {
			break
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{command.ErrUnauthorized, http.StatusForbidden},
		{command.ErrWrongPassword, http.StatusUnauthorized},
		{command.ErrLoginDisabled, http.StatusServiceUnavailable},
		{manager.ErrShuttingDown, http.StatusServiceUnavailable},
		{command.ErrInvalidTimeout, http.StatusBadRequest},
		{command.ErrUnknown, http.StatusNotFound},
		{manager.ErrNotFound, http.StatusNotFound},
		{manager.ErrAlreadyExists, http.StatusConflict},
		{session.ErrSpawn, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
