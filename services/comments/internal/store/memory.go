package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

// InMemoryStore is a development-only implementation. Each unit of work runs
// under one mutex. The first write of a unit copies the data and the copy
// replaces the original only when the work succeeds; read-only units copy nothing.
type InMemoryStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type likeKey struct {
	commentID string
	userID    string
}

type memData struct {
	comments map[string]domain.Comment
	seq      map[string]int64 // insertion order; breaks created_at ties
	likes    map[likeKey]domain.Like
	next     int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: &memData{
			comments: make(map[string]domain.Comment),
			seq:      make(map[string]int64),
			likes:    make(map[likeKey]domain.Like),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{base: s.data, now: s.now}
	if err := fn(ctx, memRepos{tx: tx}); err != nil {
		return err
	}
	if tx.work != nil {
		s.data = tx.work
	}
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (d *memData) clone() *memData {
	out := &memData{
		comments: make(map[string]domain.Comment, len(d.comments)),
		seq:      make(map[string]int64, len(d.seq)),
		likes:    make(map[likeKey]domain.Like, len(d.likes)),
		next:     d.next,
	}
	for k, v := range d.comments {
		out.comments[k] = v
	}
	for k, v := range d.seq {
		out.seq[k] = v
	}
	for k, v := range d.likes {
		out.likes[k] = v
	}
	return out
}

type memTx struct {
	base *memData
	work *memData
	now  func() time.Time
}

func (t *memTx) read() *memData {
	if t.work != nil {
		return t.work
	}
	return t.base
}

func (t *memTx) write() *memData {
	if t.work == nil {
		t.work = t.base.clone()
	}
	return t.work
}

type memRepos struct {
	tx *memTx
}

func (r memRepos) Comments() CommentStore { return memComments(r) }
func (r memRepos) Likes() LikeStore       { return memLikes(r) }

type memComments memRepos

func (m memComments) Create(_ context.Context, c domain.Comment) (domain.Comment, error) {
	if err := domain.ValidateNewComment(c); err != nil {
		return domain.Comment{}, err
	}
	d := m.tx.write()
	c.ID = uuid.NewString()
	c.CreatedAt = m.tx.now()
	c.LikeCount = 0
	c.Deleted = false
	d.next++
	d.comments[c.ID] = c
	d.seq[c.ID] = d.next
	return c, nil
}

func (m memComments) GetByID(_ context.Context, id string) (domain.Comment, error) {
	c, ok := m.tx.read().comments[id]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	return c, nil
}

func (m memComments) GetForUpdate(ctx context.Context, id string) (domain.Comment, error) {
	return m.GetByID(ctx, id)
}

func (m memComments) ListRootComments(_ context.Context, eventID string, p Page) ([]domain.Comment, int64, error) {
	if !validPage(p) {
		return nil, 0, errors.New("invalid page")
	}
	d := m.tx.read()
	var roots []domain.Comment
	for _, c := range d.comments {
		if c.EventID == eventID && c.ParentCommentID == nil {
			roots = append(roots, c)
		}
	}
	total := int64(len(roots))

	less := func(a, b domain.Comment) bool {
		if p.SortBy == SortLikeCount && a.LikeCount != b.LikeCount {
			return a.LikeCount < b.LikeCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return d.seq[a.ID] < d.seq[b.ID]
	}
	sort.Slice(roots, func(i, j int) bool {
		if p.SortDir == DirAsc {
			return less(roots[i], roots[j])
		}
		return less(roots[j], roots[i])
	})

	if p.Offset >= len(roots) {
		return []domain.Comment{}, total, nil
	}
	roots = roots[p.Offset:]
	if p.Limit != nil && len(roots) > *p.Limit {
		roots = roots[:*p.Limit]
	}
	return roots, total, nil
}

func (m memComments) ListChildrenByParentIDs(_ context.Context, parentIDs []string) ([]domain.Comment, error) {
	want := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = struct{}{}
	}
	d := m.tx.read()
	var out []domain.Comment
	for _, c := range d.comments {
		if c.ParentCommentID == nil {
			continue
		}
		if _, ok := want[*c.ParentCommentID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return d.seq[out[i].ID] < d.seq[out[j].ID]
	})
	return out, nil
}

func (m memComments) HasChildren(_ context.Context, parentID string) (bool, error) {
	for _, c := range m.tx.read().comments {
		if c.ParentCommentID != nil && *c.ParentCommentID == parentID {
			return true, nil
		}
	}
	return false, nil
}

func (m memComments) Save(_ context.Context, c domain.Comment) (domain.Comment, error) {
	cur, ok := m.tx.read().comments[c.ID]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	cur.Content = c.Content
	cur.ParentCommentID = c.ParentCommentID
	cur.LikeCount = max(c.LikeCount, 0)
	cur.Deleted = c.Deleted
	m.tx.write().comments[c.ID] = cur
	return cur, nil
}

func (m memComments) AdjustLikeCount(_ context.Context, id string, delta int) (domain.Comment, error) {
	cur, ok := m.tx.read().comments[id]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	cur.LikeCount = max(cur.LikeCount+delta, 0)
	m.tx.write().comments[id] = cur
	return cur, nil
}

type memLikes memRepos

func (m memLikes) Exists(_ context.Context, commentID, userID string) (bool, error) {
	_, ok := m.tx.read().likes[likeKey{commentID, userID}]
	return ok, nil
}

func (m memLikes) Count(_ context.Context, commentID string) (int, error) {
	n := 0
	for k := range m.tx.read().likes {
		if k.commentID == commentID {
			n++
		}
	}
	return n, nil
}

func (m memLikes) Create(_ context.Context, commentID, userID string) (domain.Like, error) {
	key := likeKey{commentID, userID}
	if _, ok := m.tx.read().likes[key]; ok {
		return domain.Like{}, ErrConflict
	}
	l := domain.Like{
		ID:        uuid.NewString(),
		CommentID: commentID,
		UserID:    userID,
		CreatedAt: m.tx.now(),
	}
	m.tx.write().likes[key] = l
	return l, nil
}

func (m memLikes) Delete(_ context.Context, commentID, userID string) error {
	key := likeKey{commentID, userID}
	if _, ok := m.tx.read().likes[key]; !ok {
		return ErrNotFound
	}
	delete(m.tx.write().likes, key)
	return nil
}

func (m memLikes) ListByCommentIDsAndUser(_ context.Context, commentIDs []string, userID string) ([]domain.Like, error) {
	likes := m.tx.read().likes
	var out []domain.Like
	for _, id := range commentIDs {
		if l, ok := likes[likeKey{id, userID}]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}
