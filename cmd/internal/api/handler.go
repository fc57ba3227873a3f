// Package api serves Twootr's read-only HTTP views of the post log and the
// follow graph, plus optional self-service registration.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"twootr/cmd/identity"
	"twootr/cmd/internal/twootr"
	"twootr/cmd/security/password"

	"github.com/go-chi/chi/v5"
)

const maxRegisterBodyBytes = 4 << 10

// Registrar creates users. identity.Verifier implements it.
type Registrar interface {
	Register(ctx context.Context, userID, secret string) error
}

// followingLister is implemented by every bundled FollowGraph.
type followingLister interface {
	FollowingOf(ctx context.Context, follower string) ([]string, error)
}

// Handler wires the HTTP API to the core's ports.
type Handler struct {
	log       *slog.Logger
	graph     twootr.FollowGraph
	posts     twootr.PostLog
	registrar Registrar
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithPostLog enables the posts endpoint. Without it the endpoint answers 501.
func WithPostLog(l twootr.PostLog) HandlerOption {
	return func(h *Handler) { h.posts = l }
}

// WithRegistrar enables POST /api/users.
func WithRegistrar(r Registrar) HandlerOption {
	return func(h *Handler) { h.registrar = r }
}

// NewHandler constructs a Handler over graph.
func NewHandler(log *slog.Logger, graph twootr.FollowGraph, opts ...HandlerOption) (*Handler, error) {
	if graph == nil {
		return nil, errors.New("api: nil follow graph")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{log: log, graph: graph}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Routes mounts the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/users", func(r chi.Router) {
		if h.registrar != nil {
			r.Post("/", h.handleRegister)
		}
		r.Get("/{id}/posts", h.handlePosts)
		r.Get("/{id}/followers", h.handleFollowers)
		r.Get("/{id}/following", h.handleFollowing)
	})
}

// Router returns a standalone chi router serving the API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

type postResponse struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

type postsResponse struct {
	Author  string         `json:"author"`
	Posts   []postResponse `json:"posts"`
	HasMore bool           `json:"has_more"`
}

type edgesResponse struct {
	UserID    string   `json:"user_id"`
	Followers []string `json:"followers,omitempty"`
	Following []string `json:"following,omitempty"`
}

type registerRequest struct {
	UserID string `json:"user_id"`
	Secret string `json:"secret"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

// handlePosts serves GET /api/users/{id}/posts?after_seq=&limit=.
func (h *Handler) handlePosts(w http.ResponseWriter, r *http.Request) {
	if h.posts == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "post log not configured")
		return
	}

	author, ok := userIDParam(w, r)
	if !ok {
		return
	}

	q := twootr.HistoryQuery{Author: author}
	qs := r.URL.Query()

	if v := qs.Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "after_seq must be a non-negative integer")
			return
		}
		q.AfterSeq = &n
	}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > twootr.MaxHistoryLimit {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be between 1 and "+strconv.Itoa(twootr.MaxHistoryLimit))
			return
		}
		q.Limit = n
	}

	page, err := h.posts.History(r.Context(), q)
	if err != nil {
		h.internal(w, r, "api.posts.fail", err)
		return
	}

	out := postsResponse{Author: author, Posts: make([]postResponse, 0, len(page.Posts)), HasMore: page.HasMore}
	for _, p := range page.Posts {
		out.Posts = append(out.Posts, postResponse{
			ID:        p.ID,
			Author:    p.Author,
			Text:      p.Text,
			Seq:       p.Seq,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleFollowers(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	followers, err := h.graph.FollowersOf(r.Context(), userID)
	if err != nil {
		h.internal(w, r, "api.followers.fail", err)
		return
	}
	if followers == nil {
		followers = []string{}
	}
	writeJSON(w, http.StatusOK, edgesResponse{UserID: userID, Followers: followers})
}

func (h *Handler) handleFollowing(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.graph.(followingLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "not_implemented", "follow graph cannot list followees")
		return
	}

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	following, err := lister.FollowingOf(r.Context(), userID)
	if err != nil {
		h.internal(w, r, "api.following.fail", err)
		return
	}
	if following == nil {
		following = []string{}
	}
	writeJSON(w, http.StatusOK, edgesResponse{UserID: userID, Following: following})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, maxRegisterBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	userID := identity.NormalizeUserID(req.UserID)
	err := h.registrar.Register(r.Context(), userID, req.Secret)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, registerResponse{UserID: userID})
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "user_exists", "user id already registered")
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_secret", err.Error())
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_user_id", "invalid user id")
	default:
		h.internal(w, r, "api.register.fail", err)
	}
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.log.Error(event, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.NormalizeUserID(chi.URLParam(r, "id"))
	if err := identity.ValidateUserID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "invalid user id")
		return "", false
	}
	return id, true
}
