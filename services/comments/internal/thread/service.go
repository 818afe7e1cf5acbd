// Package thread implements the comment thread of an event: two-level
// comments, soft deletion, likes and the per-viewer read model.
package thread

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/event-engagement/services/comments/internal/domain"
	"github.com/example/event-engagement/services/comments/internal/events"
	"github.com/example/event-engagement/services/comments/internal/policy"
	"github.com/example/event-engagement/services/comments/internal/store"
)

// Activity subjects published after a mutation commits.
const (
	SubjectCreated = "comments.created"
	SubjectUpdated = "comments.updated"
	SubjectDeleted = "comments.deleted"
	SubjectLiked   = "comments.liked"
	SubjectUnliked = "comments.unliked"
)

// Publisher receives comment activity. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, subject, eventName, userID string, props map[string]any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, string, map[string]any) {}

// Criteria selects a page of root comments. Empty strings take the defaults
// (createdAt, desc); a nil Limit means unbounded.
type Criteria struct {
	Offset        int
	Limit         *int
	SortBy        string
	SortDirection string
}

type Service struct {
	store  store.Store
	events events.Lookup
	pub    Publisher
	log    *zap.Logger
}

func NewService(st store.Store, lookup events.Lookup, pub Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, events: lookup, pub: pub, log: log}
}

// Search returns one page of the event's root comments with their children.
func (s *Service) Search(ctx context.Context, eventID, viewerID string, c Criteria) (domain.SearchResult, error) {
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.SearchResult{}, err
	}
	page, err := pageFromCriteria(c)
	if err != nil {
		return domain.SearchResult{}, err
	}

	var out domain.SearchResult
	err = s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		roots, total, err := r.Comments().ListRootComments(ctx, eventID, page)
		if err != nil {
			return fmt.Errorf("list root comments: %w", err)
		}
		rows, err := populate(ctx, r, roots, viewerID)
		if err != nil {
			return err
		}
		out = domain.SearchResult{Count: total, Rows: rows}
		return nil
	})
	if err != nil {
		return domain.SearchResult{}, err
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, eventID, authorID, content string, parentID *string) (domain.CommentNode, error) {
	if err := domain.ValidateContent(content); err != nil {
		return domain.CommentNode{}, err
	}
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var node domain.CommentNode
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		if parentID != nil {
			if err := checkParent(ctx, r, eventID, *parentID); err != nil {
				return err
			}
		}
		c, err := r.Comments().Create(ctx, domain.Comment{
			EventID:         eventID,
			AuthorID:        authorID,
			Content:         content,
			ParentCommentID: parentID,
		})
		if err != nil {
			return wrapStore("create comment", err)
		}
		node, err = populateOne(ctx, r, c, authorID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	s.log.Debug("comment created", zap.String("comment_id", node.ID), zap.String("event_id", eventID))
	s.publish(ctx, SubjectCreated, "comment_created", authorID, node.Comment)
	return node, nil
}

// Update replaces the content and parent of a comment. A nil parentID makes it a root.
func (s *Service) Update(ctx context.Context, eventID, commentID, authorID, content string, parentID *string) (domain.CommentNode, error) {
	if err := domain.ValidateContent(content); err != nil {
		return domain.CommentNode{}, err
	}
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var node domain.CommentNode
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		c, err := loadOwned(ctx, r, eventID, commentID, authorID)
		if err != nil {
			return err
		}
		if parentID != nil {
			if *parentID == c.ID {
				return domain.Invalid("SELF_PARENT", "comment cannot be sub-comment of itself")
			}
			hasChildren, err := r.Comments().HasChildren(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("check children: %w", err)
			}
			if hasChildren {
				return errTooDeep()
			}
			if err := checkParent(ctx, r, eventID, *parentID); err != nil {
				return err
			}
		}
		c.Content = content
		c.ParentCommentID = parentID
		if c, err = r.Comments().Save(ctx, c); err != nil {
			return wrapStore("save comment", err)
		}
		node, err = populateOne(ctx, r, c, authorID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	s.log.Debug("comment updated", zap.String("comment_id", commentID))
	s.publish(ctx, SubjectUpdated, "comment_updated", authorID, node.Comment)
	return node, nil
}

// Delete soft-deletes a comment. Its children, likes and likeCount are kept.
func (s *Service) Delete(ctx context.Context, eventID, commentID, authorID string) (domain.CommentNode, error) {
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var node domain.CommentNode
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		c, err := loadOwned(ctx, r, eventID, commentID, authorID)
		if err != nil {
			return err
		}
		c.Deleted = true
		c.Content = domain.DeletedContent
		if c, err = r.Comments().Save(ctx, c); err != nil {
			return wrapStore("save comment", err)
		}
		node, err = populateOne(ctx, r, c, authorID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	s.log.Debug("comment deleted", zap.String("comment_id", commentID))
	s.publish(ctx, SubjectDeleted, "comment_deleted", authorID, node.Comment)
	return node, nil
}

func (s *Service) Like(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error) {
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var node domain.CommentNode
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		c, err := loadActive(ctx, r, eventID, commentID)
		if err != nil {
			return err
		}
		if policy.IsSelfLike(c, viewerID) {
			return domain.Denied("SELF_LIKE", "you cannot like your own comment")
		}
		liked, err := r.Likes().Exists(ctx, c.ID, viewerID)
		if err != nil {
			return fmt.Errorf("check like: %w", err)
		}
		if liked {
			return errAlreadyLiked()
		}
		if _, err := r.Likes().Create(ctx, c.ID, viewerID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errAlreadyLiked()
			}
			return fmt.Errorf("create like: %w", err)
		}
		if c, err = r.Comments().AdjustLikeCount(ctx, c.ID, 1); err != nil {
			return wrapStore("increment like count", err)
		}
		node, err = populateOne(ctx, r, c, viewerID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	s.log.Debug("comment liked", zap.String("comment_id", commentID), zap.String("user_id", viewerID))
	s.publish(ctx, SubjectLiked, "comment_liked", viewerID, node.Comment)
	return node, nil
}

func (s *Service) Unlike(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error) {
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var node domain.CommentNode
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		c, err := loadActive(ctx, r, eventID, commentID)
		if err != nil {
			return err
		}
		liked, err := r.Likes().Exists(ctx, c.ID, viewerID)
		if err != nil {
			return fmt.Errorf("check like: %w", err)
		}
		if !liked {
			return errNotLiked()
		}
		if err := r.Likes().Delete(ctx, c.ID, viewerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errNotLiked()
			}
			return fmt.Errorf("delete like: %w", err)
		}
		if c, err = r.Comments().AdjustLikeCount(ctx, c.ID, -1); err != nil {
			return wrapStore("decrement like count", err)
		}
		node, err = populateOne(ctx, r, c, viewerID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	s.log.Debug("comment unliked", zap.String("comment_id", commentID), zap.String("user_id", viewerID))
	s.publish(ctx, SubjectUnliked, "comment_unliked", viewerID, node.Comment)
	return node, nil
}

// RecountLikes resets likeCount to the number of stored likes. Callers must
// restrict it to administrators.
func (s *Service) RecountLikes(ctx context.Context, eventID, commentID, viewerID string) (domain.CommentNode, error) {
	if err := s.confirmEvent(ctx, eventID); err != nil {
		return domain.CommentNode{}, err
	}

	var (
		node   domain.CommentNode
		before int
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		c, err := loadComment(ctx, r, eventID, commentID)
		if err != nil {
			return err
		}
		n, err := r.Likes().Count(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("count likes: %w", err)
		}
		before = c.LikeCount
		c.LikeCount = n
		if c, err = r.Comments().Save(ctx, c); err != nil {
			return wrapStore("save comment", err)
		}
		node, err = populateOne(ctx, r, c, viewerID)
		return err
	})
	if err != nil {
		return domain.CommentNode{}, err
	}
	if before != node.LikeCount {
		s.log.Info("like count repaired",
			zap.String("comment_id", commentID),
			zap.Int("before", before),
			zap.Int("after", node.LikeCount))
	}
	return node, nil
}

func (s *Service) confirmEvent(ctx context.Context, eventID string) error {
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		if _, ok := domain.AsError(err); ok {
			return err
		}
		s.log.Error("event lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return fmt.Errorf("lookup event: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, subject, name, userID string, c domain.Comment) {
	props := map[string]any{
		"comment_id": c.ID,
		"event_id":   c.EventID,
		"like_count": c.LikeCount,
	}
	if c.ParentCommentID != nil {
		props["parent_comment_id"] = *c.ParentCommentID
	}
	s.pub.Publish(ctx, subject, name, userID, props)
}

func pageFromCriteria(c Criteria) (store.Page, error) {
	p := store.Page{Offset: c.Offset, Limit: c.Limit, SortBy: c.SortBy, SortDir: c.SortDirection}
	if p.SortBy == "" {
		p.SortBy = store.SortCreatedAt
	}
	if p.SortDir == "" {
		p.SortDir = store.DirDesc
	}
	switch {
	case p.SortBy != store.SortCreatedAt && p.SortBy != store.SortLikeCount:
		return store.Page{}, domain.Invalidf("INVALID_SORT_BY", "sortBy must be createdAt or likeCount, got %q", c.SortBy)
	case p.SortDir != store.DirAsc && p.SortDir != store.DirDesc:
		return store.Page{}, domain.Invalidf("INVALID_SORT_DIRECTION", "sortDirection must be asc or desc, got %q", c.SortDirection)
	case p.Offset < 0:
		return store.Page{}, domain.Invalid("INVALID_OFFSET", "offset must not be negative")
	case p.Limit != nil && *p.Limit <= 0:
		return store.Page{}, domain.Invalid("INVALID_LIMIT", "limit must be positive")
	}
	return p, nil
}

// loadComment locks the comment and checks it belongs to eventID.
func loadComment(ctx context.Context, r store.Repos, eventID, commentID string) (domain.Comment, error) {
	c, err := r.Comments().GetForUpdate(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Comment{}, domain.NotFoundf("COMMENT_NOT_FOUND", "comment %s not found", commentID)
	}
	if err != nil {
		return domain.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	if !policy.BelongsToEvent(c, eventID) {
		return domain.Comment{}, domain.Invalid("EVENT_MISMATCH", "comment does not belong to this event")
	}
	return c, nil
}

func loadActive(ctx context.Context, r store.Repos, eventID, commentID string) (domain.Comment, error) {
	c, err := loadComment(ctx, r, eventID, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.Deleted {
		return domain.Comment{}, domain.Denied("COMMENT_DELETED", "comment has been deleted")
	}
	return c, nil
}

func loadOwned(ctx context.Context, r store.Repos, eventID, commentID, userID string) (domain.Comment, error) {
	c, err := loadActive(ctx, r, eventID, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !policy.IsOwner(c, userID) {
		return domain.Comment{}, domain.Denied("NOT_AUTHOR", "only the author can modify this comment")
	}
	return c, nil
}

// checkParent enforces that parentID names a root comment of the same event.
// The parent stays locked until the transaction ends so a concurrent update
// cannot turn it into a child before the new reply commits.
func checkParent(ctx context.Context, r store.Repos, eventID, parentID string) error {
	p, err := r.Comments().GetForUpdate(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invalidf("PARENT_NOT_FOUND", "parent comment %s not found", parentID)
	}
	if err != nil {
		return fmt.Errorf("get parent comment: %w", err)
	}
	if !p.IsRoot() {
		return errTooDeep()
	}
	if !policy.BelongsToEvent(p, eventID) {
		return domain.Invalid("PARENT_EVENT_MISMATCH", "parent comment belongs to another event")
	}
	return nil
}

func wrapStore(op string, err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("COMMENT_NOT_FOUND", "comment not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func errTooDeep() error {
	return domain.Invalid("TOO_DEEP", "comments support only 2 levels")
}

func errAlreadyLiked() error {
	return domain.Invalid("ALREADY_LIKED", "you have already liked this comment")
}

func errNotLiked() error {
	return domain.NotFound("NOT_LIKED", "you have not liked this comment yet")
}
