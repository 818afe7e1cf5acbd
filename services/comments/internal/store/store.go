package store

import (
	"context"
	"errors"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

// Sentinel errors returned by every implementation.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Sort fields and directions accepted by ListRootComments.
const (
	SortCreatedAt = "createdAt"
	SortLikeCount = "likeCount"
	DirAsc        = "asc"
	DirDesc       = "desc"
)

// Page selects a window of root comments. A nil Limit means unbounded.
type Page struct {
	Offset  int
	Limit   *int
	SortBy  string
	SortDir string
}

// CommentStore persists comment rows.
type CommentStore interface {
	Create(ctx context.Context, c domain.Comment) (domain.Comment, error)
	GetByID(ctx context.Context, id string) (domain.Comment, error)
	// GetForUpdate is GetByID plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (domain.Comment, error)
	ListRootComments(ctx context.Context, eventID string, p Page) ([]domain.Comment, int64, error)
	ListChildrenByParentIDs(ctx context.Context, parentIDs []string) ([]domain.Comment, error)
	HasChildren(ctx context.Context, parentID string) (bool, error)
	Save(ctx context.Context, c domain.Comment) (domain.Comment, error)
	// AdjustLikeCount adds delta to the stored counter atomically, flooring at zero.
	AdjustLikeCount(ctx context.Context, id string, delta int) (domain.Comment, error)
}

// LikeStore persists (comment, user) like records.
type LikeStore interface {
	Exists(ctx context.Context, commentID, userID string) (bool, error)
	Count(ctx context.Context, commentID string) (int, error)
	// Create fails with ErrConflict when the pair already exists.
	Create(ctx context.Context, commentID, userID string) (domain.Like, error)
	// Delete fails with ErrNotFound when the pair does not exist.
	Delete(ctx context.Context, commentID, userID string) error
	ListByCommentIDsAndUser(ctx context.Context, commentIDs []string, userID string) ([]domain.Like, error)
}

// Repos exposes the stores bound to one transaction.
type Repos interface {
	Comments() CommentStore
	Likes() LikeStore
}

// Store runs units of work. fn's writes commit together when it returns nil and
// are discarded otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Ping(ctx context.Context) error
}

func validPage(p Page) bool {
	if p.SortBy != SortCreatedAt && p.SortBy != SortLikeCount {
		return false
	}
	if p.SortDir != DirAsc && p.SortDir != DirDesc {
		return false
	}
	return p.Offset >= 0 && (p.Limit == nil || *p.Limit > 0)
}
