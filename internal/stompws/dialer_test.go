package stompws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-sync-client/internal/session"
	"nhooyr.io/websocket"
)

type frame struct {
	command string
	headers map[string]string
	body    string
}

func parseFrames(data string) []frame {
	var out []frame
	for _, chunk := range strings.Split(data, "\x00") {
		chunk = strings.TrimLeft(chunk, "\r\n")
		if chunk == "" {
			continue
		}
		head, body, _ := strings.Cut(chunk, "\n\n")
		lines := strings.Split(head, "\n")
		f := frame{command: strings.TrimSpace(lines[0]), headers: map[string]string{}, body: body}
		for _, l := range lines[1:] {
			if k, v, ok := strings.Cut(l, ":"); ok {
				if _, seen := f.headers[k]; !seen {
					f.headers[k] = v
				}
			}
		}
		out = append(out, f)
	}
	return out
}

// broker is a minimal STOMP 1.2 endpoint: enough for CONNECT, SUBSCRIBE, SEND and DISCONNECT.
type broker struct {
	srv    *httptest.Server
	frames chan frame

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[string]string
	cookie string
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	b := &broker{frames: make(chan frame, 32), subs: map[string]string{}}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *broker) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws" }

func (b *broker) serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"v12.stomp"}})
	if err != nil {
		return
	}
	b.mu.Lock()
	b.ws = c
	b.cookie = r.Header.Get("Cookie")
	b.mu.Unlock()

	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		for _, f := range parseFrames(string(data)) {
			switch f.command {
			case "CONNECT", "STOMP":
				_ = c.Write(ctx, websocket.MessageText, []byte("CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"))
			case "SUBSCRIBE":
				b.mu.Lock()
				b.subs[f.headers["destination"]] = f.headers["id"]
				b.mu.Unlock()
			case "UNSUBSCRIBE", "DISCONNECT":
				if id := f.headers["receipt"]; id != "" {
					_ = c.Write(ctx, websocket.MessageText, []byte("RECEIPT\nreceipt-id:"+id+"\n\n\x00"))
				}
			}
			b.frames <- f
		}
	}
}

func (b *broker) publish(ctx context.Context, dest, body string) error {
	b.mu.Lock()
	id, c := b.subs[dest], b.ws
	b.mu.Unlock()
	if id == "" || c == nil {
		return fmt.Errorf("no subscriber on %s", dest)
	}
	msg := "MESSAGE\ndestination:" + dest + "\nsubscription:" + id + "\nmessage-id:m-1\ncontent-type:application/json\n\n" + body + "\x00"
	return c.Write(ctx, websocket.MessageText, []byte(msg))
}

func (b *broker) next(t *testing.T, command string) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.frames:
			if f.command == command {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame received", command)
			return frame{}
		}
	}
}

func dial(t *testing.T, b *broker) session.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := NewDialer(b.url(), WithCloseTimeout(200*time.Millisecond)).Dial(ctx, session.Credentials{
		Login:    "alice",
		Passcode: "password",
		Header:   http.Header{"Cookie": []string{"JSESSIONID=abc"}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDialSendsLoginAndCookie(t *testing.T) {
	b := newBroker(t)
	dial(t, b)

	f := b.next(t, "CONNECT")
	if f.headers["login"] != "alice" || f.headers["passcode"] != "password" {
		t.Fatalf("unexpected credentials: %+v", f.headers)
	}
	b.mu.Lock()
	cookie := b.cookie
	b.mu.Unlock()
	if cookie != "JSESSIONID=abc" {
		t.Fatalf("cookie not forwarded: %q", cookie)
	}
}

func TestSubscribeReceivesMessages(t *testing.T) {
	b := newBroker(t)
	conn := dial(t, b)

	stream, err := conn.Subscribe("/topic/game/g1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.next(t, "SUBSCRIBE")
	if err := b.publish(context.Background(), "/topic/game/g1", `{"id":"g1"}`); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-stream.C():
		if m.Destination != "/topic/game/g1" || string(m.Body) != `{"id":"g1"}` {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	if err := stream.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	select {
	case _, ok := <-stream.C():
		if ok {
			t.Fatal("stream delivered after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after unsubscribe")
	}
}

func TestSendFrame(t *testing.T) {
	b := newBroker(t)
	conn := dial(t, b)

	if err := conn.Send("/app/queue/join", "application/json", []byte(`{"playerId":"alice"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f := b.next(t, "SEND")
	if f.headers["destination"] != "/app/queue/join" {
		t.Fatalf("unexpected destination: %q", f.headers["destination"])
	}
	if f.body != `{"playerId":"alice"}` {
		t.Fatalf("unexpected body: %q", f.body)
	}
}

func TestDoneClosesOnPeerLoss(t *testing.T) {
	b := newBroker(t)
	conn := dial(t, b)
	b.next(t, "CONNECT")

	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	_ = ws.Close(websocket.StatusGoingAway, "restart")

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after peer loss")
	}
	if conn.Err() == nil {
		t.Fatal("expected loss error")
	}
}

func TestDialFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewDialer("ws://127.0.0.1:1/ws").Dial(ctx, session.Credentials{Login: "alice"}); err == nil {
		t.Fatal("expected dial error")
	}
}
