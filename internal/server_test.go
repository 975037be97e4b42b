package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/chat"
	"livechat/internal/storage"
)

type testEnv struct {
	server  *Server
	store   *storage.Store
	http    *httptest.Server
	joinURL string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.NewStore("sqlite://file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	server := NewServer(store, ServerOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	server.authLimiter = NewRateLimiter(1000, time.Minute)
	mux := http.NewServeMux()
	server.Routes(mux, "/join")
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{
		server:  server,
		store:   store,
		http:    ts,
		joinURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/join",
	}
}

func (env *testEnv) api(t *testing.T) *APIClient {
	t.Helper()
	api, err := NewAPIClient(env.joinURL)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	return api
}

// register signs a user up and returns a client logged in as them.
func (env *testEnv) register(t *testing.T, username string) *APIClient {
	t.Helper()
	ctx := context.Background()
	api := env.api(t)
	if err := api.Signup(ctx, username, "secret-pass", ""); err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	account, err := api.Login(ctx, username, "secret-pass")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return api.WithToken(account.Token)
}

func (env *testEnv) dial(t *testing.T, api *APIClient) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+api.token)
	conn, _, err := websocket.DefaultDialer.Dial(env.joinURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev chat.Event) {
	t.Helper()
	frame, err := chat.Encode(ev)
	if err != nil {
		t.Fatalf("encode %s: %v", ev.Type(), err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", ev.Type(), err)
	}
}

// readUntil reads frames until match accepts one, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, match func(chat.Event) bool) chat.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		ev, err := chat.Decode(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if match(ev) {
			return ev
		}
	}
}

func isPresence(participants ...string) func(chat.Event) bool {
	return func(ev chat.Event) bool {
		p, ok := ev.(chat.Presence)
		if !ok || len(p.Participants) != len(participants) {
			return false
		}
		for i := range participants {
			if p.Participants[i] != participants[i] {
				return false
			}
		}
		return true
	}
}

func isType(t chat.EventType) func(chat.Event) bool {
	return func(ev chat.Event) bool { return ev.Type() == t }
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignupLoginMe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	api := env.api(t)

	if err := api.Signup(ctx, "alice", "secret-pass", "Alice A."); err != nil {
		t.Fatalf("signup: %v", err)
	}
	account, err := api.Login(ctx, "alice", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if account.Token == "" || account.Username != "alice" || account.DisplayName != "Alice A." {
		t.Fatalf("unexpected account %+v", account)
	}

	me, err := api.WithToken(account.Token).Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Username != "alice" || me.DisplayName != "Alice A." || me.Token != account.Token {
		t.Fatalf("unexpected me %+v", me)
	}

	if _, err := api.Login(ctx, "alice", "wrong-pass"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("wrong password err = %v, want errUnauthorized", err)
	}
	if _, err := api.WithToken("bogus").Me(ctx); !errors.Is(err, errUnauthorized) {
		t.Fatalf("bogus token err = %v, want errUnauthorized", err)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	if err := env.api(t).Signup(context.Background(), "taken", "secret-pass", ""); err != nil {
		t.Fatalf("seed signup: %v", err)
	}

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"missing password", `{"username":"bob"}`, http.StatusBadRequest},
		{"underscore", `{"username":"bob_smith","password":"secret-pass"}`, http.StatusBadRequest},
		{"space", `{"username":"bob smith","password":"secret-pass"}`, http.StatusBadRequest},
		{"short password", `{"username":"bob","password":"abc"}`, http.StatusBadRequest},
		{"unknown field", `{"username":"bob","password":"secret-pass","admin":true}`, http.StatusBadRequest},
		{"duplicate", `{"username":"taken","password":"secret-pass"}`, http.StatusConflict},
		{"ok", `{"username":"bob","password":"secret-pass"}`, http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL+"/signup", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if tc.status >= 400 {
				var body map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
					t.Fatalf("expected a JSON error body, got %v (%v)", body, err)
				}
			}
		})
	}

	resp, err := http.Get(env.http.URL + "/signup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /signup status = %d, want 405", resp.StatusCode)
	}
}

func TestAuthEndpointsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.server.authLimiter = NewRateLimiter(2, time.Minute)
	api := env.api(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := api.Login(ctx, "nobody", "secret-pass"); !errors.Is(err, errUnauthorized) {
			t.Fatalf("login %d err = %v, want errUnauthorized", i+1, err)
		}
	}
	_, err := api.Login(ctx, "nobody", "secret-pass")
	var status *statusError
	if !errors.As(err, &status) || status.Code != http.StatusTooManyRequests {
		t.Fatalf("third login err = %v, want 429", err)
	}
	if got := env.server.metrics.Snapshot()["rate_limited_total"]; got != uint64(1) {
		t.Fatalf("rate_limited_total = %v, want 1", got)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")

	if err := alice.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := alice.Me(ctx); !errors.Is(err, errUnauthorized) {
		t.Fatalf("me after logout err = %v, want errUnauthorized", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+alice.token)
	_, resp, err := websocket.DefaultDialer.Dial(env.joinURL, header)
	if err == nil {
		t.Fatalf("websocket dial with a revoked token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial response = %v, want 401", resp)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")
	carol := env.register(t, "carol")

	direct := chat.ResolveDirect("alice", "bob")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		err := env.store.SaveMessage(ctx, storage.Message{
			ID:        "m" + body,
			ChannelID: direct,
			Kind:      string(chat.KindDirect),
			Sender:    "alice",
			Receiver:  "bob",
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := alice.FetchHistory(ctx, direct)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 || entries[0].Body != "one" || entries[2].Body != "three" {
		t.Fatalf("unexpected history %+v", entries)
	}
	if entries[0].Kind != chat.KindDirect || entries[0].Channel != direct {
		t.Fatalf("history entry lost its channel: %+v", entries[0])
	}

	_, err = carol.FetchHistory(ctx, direct)
	var status *statusError
	if !errors.As(err, &status) || status.Code != http.StatusForbidden {
		t.Fatalf("outsider history err = %v, want 403", err)
	}

	entries, err = carol.FetchHistory(ctx, "empty-room")
	if err != nil || len(entries) != 0 {
		t.Fatalf("empty room history = %v, %v", entries, err)
	}

	// a room-kind row stored under a direct id does not open it up
	seeded := chat.ResolveDirect("alice", "dave")
	for i, m := range []storage.Message{
		{ID: "s1", ChannelID: seeded, Kind: string(chat.KindRoom), Sender: "carol", Body: "seed"},
		{ID: "s2", ChannelID: seeded, Kind: string(chat.KindDirect), Sender: "alice", Receiver: "dave", Body: "secret for dave"},
	} {
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := env.store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	_, err = carol.FetchHistory(ctx, seeded)
	if !errors.As(err, &status) || status.Code != http.StatusForbidden {
		t.Fatalf("outsider history of %s err = %v, want 403", seeded, err)
	}

	entries, err = carol.FetchHistory(ctx, "another-room")
	if err != nil || len(entries) != 0 {
		t.Fatalf("empty room history = %v, %v", entries, err)
	}

	cases := []struct {
		name   string
		query  string
		token  string
		status int
	}{
		{"no token", "?channel=lobby", "", http.StatusUnauthorized},
		{"missing channel", "", alice.token, http.StatusBadRequest},
		{"bad limit", "?channel=lobby&limit=zero", alice.token, http.StatusBadRequest},
		{"negative limit", "?channel=lobby&limit=-1", alice.token, http.StatusBadRequest},
		{"limited", "?channel=" + direct + "&limit=2", alice.token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/history"+tc.query, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if tc.status != http.StatusOK {
				return
			}
			var body historyResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Messages) != 2 || body.Messages[0].Body != "two" || body.Messages[1].Body != "three" {
				t.Fatalf("limit should keep the newest messages in order, got %+v", body.Messages)
			}
		})
	}
}

func TestChannelExists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	api := env.api(t)

	exists, err := api.RoomExists(ctx, "lobby")
	if err != nil || exists {
		t.Fatalf("RoomExists(lobby) = %v, %v; want false", exists, err)
	}

	err = env.store.SaveMessage(ctx, storage.Message{
		ID:        "m1",
		ChannelID: "lobby",
		Kind:      string(chat.KindRoom),
		Sender:    "alice",
		Body:      "hello",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	exists, err = api.RoomExists(ctx, "lobby")
	if err != nil || !exists {
		t.Fatalf("RoomExists(lobby) after a message = %v, %v; want true", exists, err)
	}

	resp, err := http.Get(env.http.URL + "/exists")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing room status = %d, want 400", resp.StatusCode)
	}

	if _, err := api.RoomExists(ctx, "alice_bob"); err == nil {
		t.Fatalf("a room name shaped like a direct pair should be rejected")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["signups_total"] != 1 || body["logins_total"] != 1 {
		t.Fatalf("unexpected metrics %v", body)
	}
	if _, ok := body["active_connections"]; !ok {
		t.Fatalf("metrics missing active_connections: %v", body)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/join", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := check(req); got != tc.want {
			t.Errorf("origin %q allowed = %v, want %v", tc.origin, got, tc.want)
		}
	}
	if !originChecker(nil)(httptest.NewRequest(http.MethodGet, "/join", nil)) {
		t.Errorf("an empty allow list accepts everything")
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/join?token=query-token", nil)
	if got := bearerToken(req); got != "query-token" {
		t.Fatalf("query token = %q", got)
	}
	req.Header.Set("Authorization", "bearer header-token")
	if got := bearerToken(req); got != "header-token" {
		t.Fatalf("header token = %q", got)
	}
}
