package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/channel"
	"github.com/uznikturbo/service/pkg/protocol"
)

var testUpgrader = websocket.Upgrader{}

func intp(v int) *int { return &v }

// fakeLog serves a scripted chat history, one snapshot per fetch.
type fakeLog struct {
	mu    sync.Mutex
	logs  [][]protocol.ChatMessage
	calls int
}

func (f *fakeLog) ChatLog(ctx context.Context, ticketID int) ([]protocol.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.logs) {
		i = len(f.logs) - 1
	}
	f.calls++
	return f.logs[i], nil
}

func (f *fakeLog) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testStore() auth.Store {
	store := auth.NewMemStore()
	store.Set(protocol.Credentials{AccessToken: "acc", RefreshToken: "ref"})
	return store
}

func TestCanChat(t *testing.T) {
	assigned := protocol.Ticket{ID: 1, UserID: 3, AdminID: intp(7)}
	unassigned := protocol.Ticket{ID: 2, UserID: 3}

	cases := []struct {
		name   string
		ticket protocol.Ticket
		user   protocol.User
		want   bool
	}{
		{"creator on assigned ticket", assigned, protocol.User{ID: 3}, true},
		{"assigned admin", assigned, protocol.User{ID: 7, IsAdmin: true}, true},
		{"other admin", assigned, protocol.User{ID: 8, IsAdmin: true}, false},
		{"stranger", assigned, protocol.User{ID: 4}, false},
		{"creator before assignment", unassigned, protocol.User{ID: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanChat(tc.ticket, tc.user); got != tc.want {
				t.Errorf("CanChat = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOpenRefusedWithoutDialing(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
	}))
	defer srv.Close()

	ticket := protocol.Ticket{ID: 1, UserID: 3} // no admin yet
	_, err := Open(context.Background(), Config{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Store:     testStore(),
		Log:       &fakeLog{logs: [][]protocol.ChatMessage{nil}},
	}, ticket, protocol.User{ID: 3})

	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if dials.Load() != 0 {
		t.Error("refused session must not dial")
	}
}

func TestSessionResyncsLogOnOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/problems/1/chat") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "acc" {
			t.Errorf("expected access token in query, got %q", r.URL.Query().Get("token"))
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"user_id":7,"is_privileged":true,"message":"on my way"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	log := &fakeLog{logs: [][]protocol.ChatMessage{{
		{UserID: 3, Message: "hello"},
		{UserID: 7, IsPrivileged: true, Message: "hi"},
	}}}

	ticket := protocol.Ticket{ID: 1, UserID: 3, AdminID: intp(7)}
	session, err := Open(context.Background(), Config{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Store:     testStore(),
		Log:       log,
	}, ticket, protocol.User{ID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer session.Close()

	deadline := time.After(5 * time.Second)
	for {
		msgs := session.Messages()
		if len(msgs) == 3 {
			if msgs[0].Message != "hello" || msgs[1].Message != "hi" || msgs[2].Message != "on my way" {
				t.Errorf("unexpected log %v", msgs)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, log is %v", session.Messages())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSessionResyncsFullLogOnReconnect(t *testing.T) {
	// The first connection is dropped by the server. On reconnect the
	// session must rebuild its log from a fresh full fetch, not append
	// to the stale one.
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	log := &fakeLog{logs: [][]protocol.ChatMessage{
		{{UserID: 3, Message: "hello"}},
		{{UserID: 3, Message: "hello"}, {UserID: 7, Message: "missed while offline"}},
	}}

	ticket := protocol.Ticket{ID: 1, UserID: 3, AdminID: intp(7)}
	session, err := Open(context.Background(), Config{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Store:     testStore(),
		Log:       log,
		BaseDelay: time.Millisecond,
	}, ticket, protocol.User{ID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer session.Close()

	deadline := time.After(5 * time.Second)
	for {
		msgs := session.Messages()
		if len(msgs) == 2 && msgs[1].Message == "missed while offline" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, log is %v", msgs)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if log.fetches() < 2 {
		t.Errorf("expected a fetch per (re)connect, got %d", log.fetches())
	}
}

func TestSendDeliversFrame(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ticket := protocol.Ticket{ID: 1, UserID: 3, AdminID: intp(7)}
	session, err := Open(context.Background(), Config{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Store:     testStore(),
		Log:       &fakeLog{logs: [][]protocol.ChatMessage{nil}},
	}, ticket, protocol.User{ID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer session.Close()

	deadline := time.After(5 * time.Second)
	for {
		if state, _ := session.State(); state == channel.Open {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for open")
		case <-time.After(10 * time.Millisecond):
		}
	}

	session.Send("the printer is on fire")

	select {
	case got := <-received:
		if got != `{"message":"the printer is on fire"}` {
			t.Errorf("server received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestSendDroppedWhenNotConnected(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // dials will fail; channel sits in backoff

	ticket := protocol.Ticket{ID: 1, UserID: 3, AdminID: intp(7)}
	session, err := Open(context.Background(), Config{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Store:     testStore(),
		Log:       &fakeLog{logs: [][]protocol.ChatMessage{nil}},
		BaseDelay: time.Millisecond,
	}, ticket, protocol.User{ID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer session.Close()

	// Fire-and-forget: must not panic or error out.
	session.Send("lost to the void")

	if len(session.Messages()) != 0 {
		t.Error("a dropped send must not appear in the log")
	}
}
