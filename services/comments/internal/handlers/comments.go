package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/event-engagement/internal/platform/api"
	"github.com/example/event-engagement/internal/platform/auth"
	"github.com/example/event-engagement/internal/platform/httpserver"
	"github.com/example/event-engagement/services/comments/internal/domain"
	"github.com/example/event-engagement/services/comments/internal/thread"
)

// Threads is the comment thread service as seen by HTTP handlers.
type Threads interface {
	Search(ctx context.Context, eventID, viewerID string, c thread.Criteria) (domain.SearchResult, error)
	Create(ctx context.Context, eventID, authorID, content string, parentID *string) (domain.CommentNode, error)
	Update(ctx context.Context, eventID, commentID, authorID, content string, parentID *string) (domain.CommentNode, error)
	Delete(ctx context.Context, eventID, commentID, authorID string) (domain.CommentNode, error)
	Like(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error)
	Unlike(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error)
	RecountLikes(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error)
}

type commentRequest struct {
	Content         string  `json:"content" validate:"required,max=1024"`
	ParentCommentID *string `json:"parentCommentId,omitempty" validate:"omitempty,uuid"`
}

type searchQuery struct {
	Offset        int    `validate:"min=0"`
	Limit         *int   `validate:"omitempty,min=1"`
	SortBy        string `validate:"omitempty,oneof=createdAt likeCount"`
	SortDirection string `validate:"omitempty,oneof=asc desc"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Register mounts the comment routes on r. Callers apply authentication.
func Register(r chi.Router, svc Threads, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	r.Get("/events/{eventId}/comments", SearchComments(svc, log))
	r.Post("/events/{eventId}/comments", CreateComment(svc, log))
	r.Put("/events/{eventId}/comments/{commentId}", UpdateComment(svc, log))
	r.Delete("/events/{eventId}/comments/{commentId}", DeleteComment(svc, log))
	r.Post("/events/{eventId}/comments/{commentId}/like", LikeComment(svc, log))
	r.Post("/events/{eventId}/comments/{commentId}/unlike", UnlikeComment(svc, log))
	r.With(auth.RequireAdmin).
		Post("/admin/events/{eventId}/comments/{commentId}/recount", RecountLikes(svc, log))
}

// SearchComments handles GET /v1/events/{eventId}/comments
func SearchComments(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, ok := requireUserAndEvent(w, r)
		if !ok {
			return
		}
		q, ok := parseSearchQuery(w, r)
		if !ok {
			return
		}
		res, err := svc.Search(r.Context(), eventID, userID, thread.Criteria{
			Offset:        q.Offset,
			Limit:         q.Limit,
			SortBy:        q.SortBy,
			SortDirection: q.SortDirection,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// CreateComment handles POST /v1/events/{eventId}/comments
func CreateComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, ok := requireUserAndEvent(w, r)
		if !ok {
			return
		}
		req, ok := decodeCommentRequest(w, r)
		if !ok {
			return
		}
		node, err := svc.Create(r.Context(), eventID, userID, req.Content, req.ParentCommentID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, node)
	}
}

// UpdateComment handles PUT /v1/events/{eventId}/comments/{commentId}
func UpdateComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, commentID, ok := requireComment(w, r)
		if !ok {
			return
		}
		req, ok := decodeCommentRequest(w, r)
		if !ok {
			return
		}
		node, err := svc.Update(r.Context(), eventID, commentID, userID, req.Content, req.ParentCommentID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, node)
	}
}

// DeleteComment handles DELETE /v1/events/{eventId}/comments/{commentId}
func DeleteComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return commentAction(svc.Delete, log)
}

// LikeComment handles POST /v1/events/{eventId}/comments/{commentId}/like
func LikeComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return commentAction(svc.Like, log)
}

// UnlikeComment handles POST /v1/events/{eventId}/comments/{commentId}/unlike
func UnlikeComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return commentAction(svc.Unlike, log)
}

// RecountLikes handles POST /v1/admin/events/{eventId}/comments/{commentId}/recount
func RecountLikes(svc Threads, log *zap.Logger) http.HandlerFunc {
	return commentAction(svc.RecountLikes, log)
}

type actionFunc func(ctx context.Context, eventID, commentID, userID string) (domain.CommentNode, error)

func commentAction(fn actionFunc, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, commentID, ok := requireComment(w, r)
		if !ok {
			return
		}
		node, err := fn(r.Context(), eventID, commentID, userID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, node)
	}
}

func requireUserAndEvent(w http.ResponseWriter, r *http.Request) (userID, eventID string, ok bool) {
	reqID := httpserver.RequestIDFromContext(r.Context())
	userID, ok = auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", reqID)
		return "", "", false
	}
	eventID, ok = pathUUID(w, r, "eventId")
	return userID, eventID, ok
}

func requireComment(w http.ResponseWriter, r *http.Request) (userID, eventID, commentID string, ok bool) {
	userID, eventID, ok = requireUserAndEvent(w, r)
	if !ok {
		return "", "", "", false
	}
	commentID, ok = pathUUID(w, r, "commentId")
	return userID, eventID, commentID, ok
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		api.BadRequest(w, "MISSING_ID", name+" is required", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		api.BadRequest(w, "INVALID_ID", name+" must be a UUID", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	return id.String(), true
}

func decodeCommentRequest(w http.ResponseWriter, r *http.Request) (commentRequest, bool) {
	reqID := httpserver.RequestIDFromContext(r.Context())
	var req commentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", reqID, nil)
		return commentRequest{}, false
	}
	if err := validate.Struct(req); err != nil {
		api.BadRequest(w, "VALIDATION_FAILED", "invalid request body", reqID, validationDetails(err))
		return commentRequest{}, false
	}
	if req.ParentCommentID != nil {
		id := strings.ToLower(*req.ParentCommentID)
		req.ParentCommentID = &id
	}
	return req, true
}

func parseSearchQuery(w http.ResponseWriter, r *http.Request) (searchQuery, bool) {
	reqID := httpserver.RequestIDFromContext(r.Context())
	v := r.URL.Query()
	q := searchQuery{
		SortBy:        strings.TrimSpace(v.Get("sortBy")),
		SortDirection: strings.ToLower(strings.TrimSpace(v.Get("sortDirection"))),
	}
	if s := strings.TrimSpace(v.Get("offset")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			api.BadRequest(w, "INVALID_QUERY", "offset must be an integer", reqID, nil)
			return searchQuery{}, false
		}
		q.Offset = n
	}
	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			api.BadRequest(w, "INVALID_QUERY", "limit must be an integer", reqID, nil)
			return searchQuery{}, false
		}
		q.Limit = &n
	}
	if err := validate.Struct(q); err != nil {
		api.BadRequest(w, "INVALID_QUERY", "invalid paging or sorting parameters", reqID, validationDetails(err))
		return searchQuery{}, false
	}
	return q, true
}

func validationDetails(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	reqID := httpserver.RequestIDFromContext(r.Context())
	de, ok := domain.AsError(err)
	if !ok {
		log.Error("comment request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", reqID),
			zap.Error(err))
		api.Internal(w, reqID)
		return
	}
	switch {
	case errors.Is(de, domain.ErrValidation):
		api.BadRequest(w, de.Code, de.Message, reqID, nil)
	case errors.Is(de, domain.ErrAccessDenied):
		api.Forbidden(w, de.Code, de.Message, reqID)
	case errors.Is(de, domain.ErrNotFound):
		api.NotFound(w, de.Code, de.Message, reqID)
	default:
		api.Internal(w, reqID)
	}
}
