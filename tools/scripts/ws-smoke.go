// Package main provides a CI-friendly WebSocket smoke test for a running
// Twootr server.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/hello_ack logon for two users
//   - follow -> ack
//   - post_send -> post_ack and post_new fan-out to the follower
//   - per-author sequence growth
//   - unfollow stops delivery
//   - post history over HTTP (when -api is set)
//   - logoff -> ack + session_terminated
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "twootr/shared/contracts/twootr/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "", "HTTP base URL for the history check (empty skips it)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		author  = flag.String("author", "alice", "Author user id")
		authorS = flag.String("author-secret", "alice-secret-1", "Author secret")
		reader  = flag.String("follower", "bob", "Follower user id")
		readerS = flag.String("follower-secret", "bob-secret-1", "Follower secret")
		text    = flag.String("text", "hello twootr 👋", "Post text")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *author, *authorS, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *reader, *readerS, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustAck(root, b, v1.TypeFollow, v1.FollowPayload{UserID: *author}, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	postID, seq := mustPostAndAssertAck(root, a, clientMsgID, *text, *timeout)
	mustAssertNew(root, b, postID, seq, *author, *text, *timeout)

	postID2, seq2 := mustPostAndAssertAck(root, a, clientMsgID+"-2", *text, *timeout)
	if seq2 != seq+1 {
		fatalf("sequence: second post seq=%d want=%d", seq2, seq+1)
	}
	mustAssertNew(root, b, postID2, seq2, *author, *text, *timeout)

	mustAck(root, b, v1.TypeUnfollow, v1.FollowPayload{UserID: *author}, *timeout)
	mustPostAndAssertAck(root, a, clientMsgID+"-3", *text, *timeout)
	mustAssertNoType(root, b, v1.TypePostNew, 1200*time.Millisecond)

	if *apiURL != "" {
		mustHistoryContains(root, *apiURL, *author, postID, *timeout)
	}

	mustAck(root, b, v1.TypeLogoff, v1.LogoffPayload{}, *timeout)
	term := b.mustReadUntilType(root, v1.TypeSessionTerminated, *timeout, nil)
	var tp v1.SessionTerminatedPayload
	if err := json.Unmarshal(term.Payload, &tp); err != nil {
		fatalf("unmarshal session_terminated payload: %v", err)
	}
	if tp.Reason != "logoff" {
		fatalf("session_terminated reason=%q want=logoff", tp.Reason)
	}

	fmt.Printf("OK: A=%s B=%s author=%s seq=%d post_id=%s\n", a.sessionID, b.sessionID, *author, seq2+1, postID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, userID, secret string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, c, v1.TypeHello, fmt.Sprintf("%s-hello", name), v1.HelloPayload{UserID: userID, Secret: secret}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.UserID != userID {
		fatalf("hello_ack user_id mismatch (%s): got=%q want=%q", name, p.UserID, userID)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustAck(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	id := fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano())
	mustWrite(parent, c, typ, id, payload, stepTimeout)

	skip := map[string]struct{}{v1.TypePostNew: {}}
	env := c.mustReadUntilType(parent, v1.TypeAck, stepTimeout, skip)

	var p v1.AckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal ack payload (%s): %v", c.name, err)
	}
	if p.RefID != id {
		fatalf("ack ref_id mismatch (%s): got=%q want=%q", c.name, p.RefID, id)
	}
}

func mustPostAndAssertAck(parent context.Context, c *smokeClient, clientMsgID, text string, stepTimeout time.Duration) (postID string, seq int64) {
	mustWrite(parent, c, v1.TypePostSend, fmt.Sprintf("%s-post-%s", c.name, clientMsgID), v1.PostSendPayload{
		ClientMsgID: clientMsgID,
		Text:        text,
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypePostAck, stepTimeout, nil)

	var p v1.PostAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal post_ack payload (%s): %v", c.name, err)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.PostID) == "" {
		fatalf("ack missing post_id (%s)", c.name)
	}
	if p.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, p.Seq)
	}
	return p.PostID, p.Seq
}

func mustAssertNew(parent context.Context, c *smokeClient, postID string, seq int64, author, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypePostNew, stepTimeout, nil)

	var p v1.PostNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal post_new payload (%s): %v", c.name, err)
	}

	if p.PostID != postID {
		fatalf("new post_id mismatch (%s): got=%q want=%q", c.name, p.PostID, postID)
	}
	if p.Seq != seq {
		fatalf("new seq mismatch (%s): got=%d want=%d", c.name, p.Seq, seq)
	}
	if p.Author != author {
		fatalf("new author mismatch (%s): got=%q want=%q", c.name, p.Author, author)
	}
	if p.Text != text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if p.CreatedAt.IsZero() {
		fatalf("new created_at missing/zero (%s)", c.name)
	}
}

func mustHistoryContains(parent context.Context, apiURL, author, postID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	target := strings.TrimRight(apiURL, "/") + "/api/users/" + url.PathEscape(author) + "/posts"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fatalf("history request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("history fetch: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("history read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("history status=%d body=%s", resp.StatusCode, body)
	}

	var page struct {
		Posts []struct {
			ID string `json:"id"`
		} `json:"posts"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		fatalf("history decode: %v", err)
	}
	for _, p := range page.Posts {
		if p.ID == postID {
			return
		}
	}
	fatalf("history missing post %s", postID)
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ, id string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
