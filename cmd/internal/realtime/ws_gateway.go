package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"twootr/cmd/identity"
	"twootr/cmd/internal/twootr"
	v1 "twootr/shared/contracts/twootr/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// ConnMetrics receives socket-level events. The core reports session events
// through twootr.Metrics.
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRejected(reason string)
}

type nopConnMetrics struct{}

func (nopConnMetrics) ConnectionOpened()         {}
func (nopConnMetrics) ConnectionClosed()         {}
func (nopConnMetrics) ConnectionRejected(string) {}

// WSGateway is the WebSocket adapter in front of the Twootr core.
//
// It enforces origin policy, subprotocol selection and heartbeats, turns the
// hello frame into a logon, routes client envelopes to the session's Sender
// and writes delivered posts back as post_new frames.
type WSGateway struct {
	log     *slog.Logger
	core    *twootr.Twootr
	metrics ConnMetrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	helloTimeout    time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// NewWSGateway constructs a gateway with secure defaults read from the
// TWOOTR_WS_* environment. A nil metrics discards connection events.
func NewWSGateway(log *slog.Logger, core *twootr.Twootr, metrics ConnMetrics) *WSGateway {
	if core == nil {
		panic("realtime: nil core")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if metrics == nil {
		metrics = nopConnMetrics{}
	}

	g := &WSGateway{log: log, core: core, metrics: metrics}

	// NOTE: InsecureSkipVerify disables coder/websocket's origin check. Dev only.
	g.devInsecure = envBoolWS("TWOOTR_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("TWOOTR_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("TWOOTR_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("TWOOTR_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("TWOOTR_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.helloTimeout = envDurationWS("TWOOTR_WS_HELLO_TIMEOUT", helloTimeout)

	g.sendQueueSize = envIntWS("TWOOTR_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("TWOOTR_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("TWOOTR_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket and runs the session loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.ConnectionRejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.ConnectionRejected("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()

	client := NewClient(newConnID(), g.sendQueueSize)

	// Detached from the request so the final frames of a closing session
	// are not cut off by the handler returning.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case o := <-client.Send:
				if err := writeEnvelope(ctx, conn, o.env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if o.final {
					shutdown(o.code, o.reason)
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	s := &wsSession{g: g, client: client, shutdown: shutdown}
	s.readLoop(ctx, conn)

	// Session ended by the peer or the transport: release it in the core.
	if s.sender != nil {
		if err := s.sender.Logoff(context.Background()); err != nil && !twootr.IsNotAuthenticated(err) {
			g.log.Warn("ws.logoff.fail", "conn_id", client.ConnID, "user_id", client.UserID, "err", err)
		}
	}

	// Give a queued final frame time to flush before forcing the close.
	select {
	case <-writerDone:
	case <-time.After(g.writeTimeout + wsCloseGrace):
	}
	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// wsSession is the per-connection protocol state driven by readLoop.
type wsSession struct {
	g        *WSGateway
	client   *Client
	shutdown func(code websocket.StatusCode, reason string)

	sender *twootr.Sender
	closed bool
}

func (s *wsSession) readLoop(ctx context.Context, conn *websocket.Conn) {
	for !s.closed {
		timeout := s.g.readIdleTimeout
		if s.sender == nil {
			timeout = s.g.helloTimeout
		}

		readCtx, readCancel := context.WithTimeout(ctx, timeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				s.shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				if s.sender == nil && ctx.Err() == nil {
					s.g.metrics.ConnectionRejected("hello_timeout")
					s.shutdown(websocket.StatusPolicyViolation, "hello timeout")
				} else {
					s.shutdown(websocket.StatusNormalClosure, "idle")
				}
			case readErrConnClosed:
				s.shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				s.g.log.Info("ws.read.fail", "conn_id", s.client.ConnID, "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.replyError(ctx, "", v1.CodeBadJSON, "invalid JSON")
			continue
		}
		if err := env.Validate(); err != nil {
			s.replyError(ctx, env.ID, v1.CodeBadEnvelope, err.Error())
			continue
		}

		if s.sender == nil {
			s.onHello(ctx, env)
			continue
		}
		s.dispatch(ctx, env)
	}
}

// onHello handles the first frame of a connection. Anything other than a
// valid hello ends the connection.
func (s *wsSession) onHello(ctx context.Context, env v1.Envelope) {
	if env.Type != v1.TypeHello {
		s.g.metrics.ConnectionRejected("no_hello")
		s.fail(v1.CodeNotAuthenticated, "hello required", "hello required")
		return
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.g.metrics.ConnectionRejected("bad_hello")
		s.fail(v1.CodeBadEnvelope, "invalid payload", "hello failed")
		return
	}

	userID := identity.NormalizeUserID(p.UserID)
	if userID == "" || p.Secret == "" {
		s.g.metrics.ConnectionRejected("auth_failed")
		s.fail(v1.CodeAuthFailed, "authentication failed", "auth failed")
		return
	}

	receiver := newWSReceiver(s.client, s.g.writeTimeout, s.shutdown)
	sender, ok := s.g.core.OnLogon(ctx, userID, p.Secret, receiver)
	if !ok {
		s.g.log.Info("ws.hello.rejected", "conn_id", s.client.ConnID, "user_id", userID)
		s.g.metrics.ConnectionRejected("auth_failed")
		s.fail(v1.CodeAuthFailed, "authentication failed", "auth failed")
		return
	}

	s.sender = sender
	s.client.UserID = userID

	payload, _ := json.Marshal(v1.HelloAckPayload{SessionID: sender.SessionID(), UserID: userID})
	ok = s.reply(ctx, newEnvelope(v1.TypeHelloAck, payload, time.Now().UTC()))
	receiver.markReady()
	if !ok {
		s.backpressure()
		return
	}
	s.g.log.Info("ws.hello.ok", "conn_id", s.client.ConnID, "user_id", userID, "session_id", sender.SessionID())
}

func (s *wsSession) dispatch(ctx context.Context, env v1.Envelope) {
	switch env.Type {
	case v1.TypeHello:
		s.replyError(ctx, env.ID, v1.CodeUnsupported, "already authenticated")

	case v1.TypePostSend:
		var p v1.PostSendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.replyError(ctx, env.ID, v1.CodeBadEnvelope, "invalid payload")
			return
		}
		post, err := s.sender.Publish(ctx, p.Text)
		if err != nil {
			s.replyErr(ctx, env.ID, err)
			return
		}
		payload, _ := json.Marshal(v1.PostAckPayload{ClientMsgID: p.ClientMsgID, PostID: post.ID, Seq: post.Seq})
		if !s.reply(ctx, newEnvelope(v1.TypePostAck, payload, time.Now().UTC())) {
			s.backpressure()
		}

	case v1.TypeFollow, v1.TypeUnfollow:
		var p v1.FollowPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.replyError(ctx, env.ID, v1.CodeBadEnvelope, "invalid payload")
			return
		}
		target := identity.NormalizeUserID(p.UserID)

		var err error
		if env.Type == v1.TypeFollow {
			err = s.sender.Follow(ctx, target)
		} else {
			err = s.sender.Unfollow(ctx, target)
		}
		if err != nil {
			s.replyErr(ctx, env.ID, err)
			return
		}
		s.ack(ctx, env.ID)

	case v1.TypeLogoff:
		if !s.sender.Active() {
			s.replyErr(ctx, env.ID, twootr.ErrNotAuthenticated)
			return
		}
		// The ack must be queued before the core's session_terminated frame.
		s.ack(ctx, env.ID)
		if err := s.sender.Logoff(ctx); err != nil {
			s.replyErr(ctx, env.ID, err)
		}

	default:
		s.replyError(ctx, env.ID, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
	}
}

// ---- send helpers ----

func (s *wsSession) reply(ctx context.Context, env v1.Envelope) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.client.offer(outbound{env: env})
}

func (s *wsSession) ack(ctx context.Context, refID string) {
	payload, _ := json.Marshal(v1.AckPayload{RefID: refID})
	if !s.reply(ctx, newEnvelope(v1.TypeAck, payload, time.Now().UTC())) {
		s.backpressure()
	}
}

func (s *wsSession) replyError(ctx context.Context, refID, code, msg string) {
	_ = s.reply(ctx, newErrorEnvelope(refID, code, msg))
}

func (s *wsSession) replyErr(ctx context.Context, refID string, err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == v1.CodeInternal {
		s.g.log.Error("ws.op.fail", "conn_id", s.client.ConnID, "user_id", s.client.UserID, "err", err)
		msg = "internal error"
	}
	s.replyError(ctx, refID, code, msg)
}

// fail queues an error frame as the connection's last frame and stops reading.
func (s *wsSession) fail(code, msg, closeReason string) {
	s.closed = true
	o := outbound{
		env:    newErrorEnvelope("", code, msg),
		final:  true,
		code:   websocket.StatusPolicyViolation,
		reason: closeReason,
	}
	if !s.client.offer(o) {
		s.shutdown(websocket.StatusPolicyViolation, closeReason)
	}
}

// backpressure closes a client that is not reading its replies.
func (s *wsSession) backpressure() {
	s.g.log.Info("ws.backpressure", "conn_id", s.client.ConnID, "user_id", s.client.UserID)
	s.closed = true
	s.shutdown(websocket.StatusPolicyViolation, "send queue full")
}

// errorCode maps core error kinds to wire codes.
func errorCode(err error) string {
	switch {
	case twootr.IsNotAuthenticated(err):
		return v1.CodeNotAuthenticated
	case twootr.IsInvalidContent(err):
		return v1.CodeInvalidContent
	case errors.Is(err, twootr.ErrSelfFollowNotAllowed):
		return v1.CodeSelfFollowNotAllowed
	case errors.Is(err, twootr.ErrInvalidUserID):
		return v1.CodeInvalidUserID
	default:
		return v1.CodeInternal
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(),
		TS:      ts,
		Payload: payload,
	}
}

func newErrorEnvelope(refID, code, msg string) v1.Envelope {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	if refID != "" {
		env.ID = refID
	}
	return env
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated
// hosts of the allowlist for websocket.AcceptOptions.OriginPatterns.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
