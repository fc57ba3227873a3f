package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"twootr/cmd/internal/twootr"
	v1 "twootr/shared/contracts/twootr/v1"

	"github.com/coder/websocket"
)

func newTestCore(t *testing.T) *twootr.Twootr {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := twootr.VerifierFunc(func(_ context.Context, userID, secret string) (bool, error) {
		return secret == "pw-"+userID, nil
	})
	core, err := twootr.New(log, verifier, twootr.WithLimits(twootr.Limits{DeliveryTimeout: time.Second}))
	if err != nil {
		t.Fatalf("twootr.New: %v", err)
	}
	return core
}

func startWSTestServer(t *testing.T, core *twootr.Twootr) *httptest.Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSGateway(log, core, nil))
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = core.Close(ctx)
		ts.Close()
	})
	return ts
}

func dialWS(t *testing.T, baseHTTPURL string, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, resp, err := dialWS(t, ts.URL, ts.URL)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()

	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: mustJSONRaw(t, payload)}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	writeRaw(t, conn, b)
}

func writeRaw(t *testing.T, conn *websocket.Conn, b []byte) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()

	for i := 0; i < maxReads; i++ {
		env := readEnvelopeWS(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

// expectClosed reads until the server closes the socket and returns the close code.
func expectClosed(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
	t.Fatalf("connection still open")
	return -1
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal %s payload: %v", env.Type, err)
	}
	return p
}

func logon(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	conn := mustDial(t, ts)
	writeEnvelopeWS(t, conn, v1.TypeHello, "h-"+userID, v1.HelloPayload{UserID: userID, Secret: "pw-" + userID})

	env := readEnvelopeWS(t, conn)
	if env.Type != v1.TypeHelloAck {
		t.Fatalf("first frame type=%q want=%q (payload=%s)", env.Type, v1.TypeHelloAck, env.Payload)
	}
	ack := decodePayload[v1.HelloAckPayload](t, env)
	if ack.UserID != userID || ack.SessionID == "" {
		t.Fatalf("hello_ack=%+v want user_id=%q and a session id", ack, userID)
	}
	return conn
}

func TestWSGateway_OriginRequired_MissingOriginRejected(t *testing.T) {
	t.Setenv("TWOOTR_WS_ORIGIN_REQUIRED", "true")

	ts := startWSTestServer(t, newTestCore(t))

	_, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status=%d want=%d err=%v", status, http.StatusForbidden, err)
	}
}

func TestWSGateway_ForeignOriginRejected(t *testing.T) {
	t.Setenv("TWOOTR_WS_ALLOWED_ORIGINS", "http://localhost")

	ts := startWSTestServer(t, newTestCore(t))

	_, resp, err := dialWS(t, ts.URL, "https://evil.example")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_HelloWithBadSecret(t *testing.T) {
	core := newTestCore(t)
	ts := startWSTestServer(t, core)

	conn := mustDial(t, ts)
	writeEnvelopeWS(t, conn, v1.TypeHello, "h1", v1.HelloPayload{UserID: "alice", Secret: "wrong"})

	env := readEnvelopeWS(t, conn)
	if env.Type != v1.TypeError {
		t.Fatalf("type=%q want=%q", env.Type, v1.TypeError)
	}
	if p := decodePayload[v1.ErrorPayload](t, env); p.Code != v1.CodeAuthFailed {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeAuthFailed)
	}
	if code := expectClosed(t, conn); code != websocket.StatusPolicyViolation {
		t.Fatalf("close=%v want=%v", code, websocket.StatusPolicyViolation)
	}
	if n := core.ActiveSessions(); n != 0 {
		t.Fatalf("active sessions=%d want=0", n)
	}
}

func TestWSGateway_FirstFrameMustBeHello(t *testing.T) {
	ts := startWSTestServer(t, newTestCore(t))

	conn := mustDial(t, ts)
	writeEnvelopeWS(t, conn, v1.TypePostSend, "p1", v1.PostSendPayload{Text: "hi"})

	env := readEnvelopeWS(t, conn)
	if p := decodePayload[v1.ErrorPayload](t, env); env.Type != v1.TypeError || p.Code != v1.CodeNotAuthenticated {
		t.Fatalf("got type=%q code=%q want error/%s", env.Type, p.Code, v1.CodeNotAuthenticated)
	}
	if code := expectClosed(t, conn); code != websocket.StatusPolicyViolation {
		t.Fatalf("close=%v want=%v", code, websocket.StatusPolicyViolation)
	}
}

func TestWSGateway_FollowThenPostDelivers(t *testing.T) {
	ts := startWSTestServer(t, newTestCore(t))

	alice := logon(t, ts, "alice")
	bob := logon(t, ts, "bob")

	writeEnvelopeWS(t, alice, v1.TypeFollow, "f1", v1.FollowPayload{UserID: "bob"})
	ack := readEnvelopeWS(t, alice)
	if ack.Type != v1.TypeAck || decodePayload[v1.AckPayload](t, ack).RefID != "f1" {
		t.Fatalf("follow reply=%+v want ack ref_id=f1", ack)
	}

	writeEnvelopeWS(t, bob, v1.TypePostSend, "p1", v1.PostSendPayload{ClientMsgID: "c1", Text: "hi"})
	postAck := decodePayload[v1.PostAckPayload](t, readUntilType(t, bob, v1.TypePostAck, 3))
	if postAck.ClientMsgID != "c1" || postAck.Seq != 1 || postAck.PostID == "" {
		t.Fatalf("post_ack=%+v want client_msg_id=c1 seq=1", postAck)
	}

	got := decodePayload[v1.PostNewPayload](t, readUntilType(t, alice, v1.TypePostNew, 3))
	if got.Author != "bob" || got.Text != "hi" || got.Seq != 1 || got.PostID != postAck.PostID {
		t.Fatalf("post_new=%+v want author=bob text=hi seq=1 post_id=%s", got, postAck.PostID)
	}
}

func TestWSGateway_PostsArriveInOrder(t *testing.T) {
	ts := startWSTestServer(t, newTestCore(t))

	alice := logon(t, ts, "alice")
	bob := logon(t, ts, "bob")

	writeEnvelopeWS(t, alice, v1.TypeFollow, "f1", v1.FollowPayload{UserID: "bob"})
	readUntilType(t, alice, v1.TypeAck, 1)

	for _, text := range []string{"1", "2", "3"} {
		writeEnvelopeWS(t, bob, v1.TypePostSend, "p"+text, v1.PostSendPayload{Text: text})
	}

	for i, want := range []string{"1", "2", "3"} {
		p := decodePayload[v1.PostNewPayload](t, readUntilType(t, alice, v1.TypePostNew, 1))
		if p.Text != want || p.Seq != int64(i+1) {
			t.Fatalf("post %d: text=%q seq=%d want text=%q seq=%d", i, p.Text, p.Seq, want, i+1)
		}
	}
}

func TestWSGateway_ErrorCodes(t *testing.T) {
	ts := startWSTestServer(t, newTestCore(t))
	alice := logon(t, ts, "alice")

	tests := []struct {
		name    string
		typ     string
		payload any
		want    string
	}{
		{"self follow", v1.TypeFollow, v1.FollowPayload{UserID: "alice"}, v1.CodeSelfFollowNotAllowed},
		{"empty follow target", v1.TypeFollow, v1.FollowPayload{UserID: "  "}, v1.CodeInvalidUserID},
		{"empty post", v1.TypePostSend, v1.PostSendPayload{Text: "   "}, v1.CodeInvalidContent},
		{"long post", v1.TypePostSend, v1.PostSendPayload{Text: strings.Repeat("x", 281)}, v1.CodeInvalidContent},
		{"second hello", v1.TypeHello, v1.HelloPayload{UserID: "alice", Secret: "pw-alice"}, v1.CodeUnsupported},
		{"server type", v1.TypePostNew, v1.PostNewPayload{}, v1.CodeUnsupported},
	}

	for _, tt := range tests {
		writeEnvelopeWS(t, alice, tt.typ, "e-"+tt.name, tt.payload)
		env := readEnvelopeWS(t, alice)
		if env.Type != v1.TypeError {
			t.Fatalf("%s: type=%q want=%q", tt.name, env.Type, v1.TypeError)
		}
		if got := decodePayload[v1.ErrorPayload](t, env).Code; got != tt.want {
			t.Fatalf("%s: code=%q want=%q", tt.name, got, tt.want)
		}
		if env.ID != "e-"+tt.name {
			t.Fatalf("%s: error id=%q want=%q", tt.name, env.ID, "e-"+tt.name)
		}
	}
}

func TestWSGateway_BadJSONKeepsConnection(t *testing.T) {
	ts := startWSTestServer(t, newTestCore(t))
	alice := logon(t, ts, "alice")

	writeRaw(t, alice, []byte("{not json"))
	env := readEnvelopeWS(t, alice)
	if got := decodePayload[v1.ErrorPayload](t, env).Code; got != v1.CodeBadJSON {
		t.Fatalf("code=%q want=%q", got, v1.CodeBadJSON)
	}

	writeRaw(t, alice, []byte(`{"v":"v9","type":"follow"}`))
	env = readEnvelopeWS(t, alice)
	if got := decodePayload[v1.ErrorPayload](t, env).Code; got != v1.CodeBadEnvelope {
		t.Fatalf("code=%q want=%q", got, v1.CodeBadEnvelope)
	}

	writeEnvelopeWS(t, alice, v1.TypePostSend, "p1", v1.PostSendPayload{Text: "still here"})
	readUntilType(t, alice, v1.TypePostAck, 1)
}

func TestWSGateway_SecondLogonSupersedes(t *testing.T) {
	core := newTestCore(t)
	ts := startWSTestServer(t, core)

	first := logon(t, ts, "alice")
	second := logon(t, ts, "alice")

	env := readUntilType(t, first, v1.TypeSessionTerminated, 2)
	if got := decodePayload[v1.SessionTerminatedPayload](t, env).Reason; got != string(twootr.ReasonSuperseded) {
		t.Fatalf("reason=%q want=%q", got, twootr.ReasonSuperseded)
	}
	if code := expectClosed(t, first); code != websocket.StatusNormalClosure {
		t.Fatalf("close=%v want=%v", code, websocket.StatusNormalClosure)
	}

	writeEnvelopeWS(t, second, v1.TypePostSend, "p1", v1.PostSendPayload{Text: "new socket works"})
	readUntilType(t, second, v1.TypePostAck, 1)

	if n := core.ActiveSessions(); n != 1 {
		t.Fatalf("active sessions=%d want=1", n)
	}
}

func TestWSGateway_Logoff(t *testing.T) {
	core := newTestCore(t)
	ts := startWSTestServer(t, core)

	alice := logon(t, ts, "alice")
	writeEnvelopeWS(t, alice, v1.TypeLogoff, "bye", v1.LogoffPayload{})

	ack := readEnvelopeWS(t, alice)
	if ack.Type != v1.TypeAck || decodePayload[v1.AckPayload](t, ack).RefID != "bye" {
		t.Fatalf("logoff reply=%+v want ack ref_id=bye", ack)
	}
	env := readEnvelopeWS(t, alice)
	if env.Type != v1.TypeSessionTerminated || decodePayload[v1.SessionTerminatedPayload](t, env).Reason != string(twootr.ReasonLogoff) {
		t.Fatalf("got %s %s want session_terminated logoff", env.Type, env.Payload)
	}
	expectClosed(t, alice)

	deadline := time.Now().Add(2 * time.Second)
	for core.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active sessions=%d want=0", core.ActiveSessions())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_PeerCloseLogsOff(t *testing.T) {
	core := newTestCore(t)
	ts := startWSTestServer(t, core)

	alice := logon(t, ts, "alice")
	if n := core.ActiveSessions(); n != 1 {
		t.Fatalf("active sessions=%d want=1", n)
	}
	_ = alice.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(3 * time.Second)
	for core.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still bound after peer close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_ShutdownClosesSockets(t *testing.T) {
	core := newTestCore(t)
	ts := startWSTestServer(t, core)

	alice := logon(t, ts, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := core.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	env := readUntilType(t, alice, v1.TypeSessionTerminated, 2)
	if got := decodePayload[v1.SessionTerminatedPayload](t, env).Reason; got != string(twootr.ReasonShutdown) {
		t.Fatalf("reason=%q want=%q", got, twootr.ReasonShutdown)
	}
	if code := expectClosed(t, alice); code != websocket.StatusGoingAway {
		t.Fatalf("close=%v want=%v", code, websocket.StatusGoingAway)
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{twootr.OpError{Op: "x", Kind: twootr.ErrNotAuthenticated}, v1.CodeNotAuthenticated},
		{twootr.OpError{Op: "x", Kind: twootr.ErrInvalidContent}, v1.CodeInvalidContent},
		{twootr.ErrSelfFollowNotAllowed, v1.CodeSelfFollowNotAllowed},
		{twootr.ErrInvalidUserID, v1.CodeInvalidUserID},
		{errors.New("db down"), v1.CodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Fatalf("errorCode(%v)=%q want=%q", tt.err, got, tt.want)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:5173",
		"https://App.Example.com",
		"http://localhost",
		"*",
		"",
	})
	want := []string{"app.example.com", "localhost"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns=%v want=%v", got, want)
	}

	if h := originHostOnly("127.0.0.1:8080"); h != "127.0.0.1" {
		t.Fatalf("originHostOnly=%q want=127.0.0.1", h)
	}
}
