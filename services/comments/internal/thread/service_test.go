package thread

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/event-engagement/services/comments/internal/domain"
	"github.com/example/event-engagement/services/comments/internal/events"
	"github.com/example/event-engagement/services/comments/internal/store"
)

const (
	eventA = "event-a"
	eventB = "event-b"
	u1     = "user-1"
	u2     = "user-2"
	u3     = "user-3"
)

type published struct {
	subject string
	name    string
	userID  string
	props   map[string]any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, subject, name, userID string, props map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject, name, userID, props})
}

func newTestService(t *testing.T) (*Service, *store.InMemoryStore, *recordingPublisher) {
	t.Helper()
	st := store.NewInMemoryStore()
	lookup := events.NewStaticLookup(domain.Event{ID: eventA}, domain.Event{ID: eventB})
	pub := &recordingPublisher{}
	return NewService(st, lookup, pub, nil), st, pub
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func expectKind(t *testing.T, err error, kind error, code string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	de, ok := domain.AsError(err)
	if !ok {
		t.Fatalf("expected domain error, got %T", err)
	}
	if code != "" && de.Code != code {
		t.Fatalf("expected code %s, got %s", code, de.Code)
	}
}

func mustCreate(t *testing.T, s *Service, eventID, author, content string, parent *string) domain.CommentNode {
	t.Helper()
	n, err := s.Create(context.Background(), eventID, author, content, parent)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return n
}

func search(t *testing.T, s *Service, viewer string, c Criteria) domain.SearchResult {
	t.Helper()
	res, err := s.Search(context.Background(), eventA, viewer, c)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	return res
}

func TestThreadScenario(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	// A: root comment.
	a := mustCreate(t, s, eventA, u1, "hello", nil)
	if a.ParentCommentID != nil || a.LikeCount != 0 || a.Deleted {
		t.Fatalf("unexpected root comment %+v", a.Comment)
	}
	if a.ChildComments == nil || len(a.ChildComments) != 0 || a.LikedByMe {
		t.Fatalf("expected empty child list and likedByMe=false, got %+v", a)
	}

	// B: child of A; a child of B is too deep.
	b := mustCreate(t, s, eventA, u2, "reply", strPtr(a.ID))
	if b.ParentCommentID == nil || *b.ParentCommentID != a.ID {
		t.Fatalf("expected parent %s, got %v", a.ID, b.ParentCommentID)
	}
	_, err := s.Create(ctx, eventA, u3, "too deep", strPtr(b.ID))
	expectKind(t, err, domain.ErrValidation, "TOO_DEEP")

	// C: U2 likes A; the author cannot.
	liked, err := s.Like(ctx, eventA, a.ID, u2)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if liked.LikeCount != 1 || !liked.LikedByMe {
		t.Fatalf("expected likeCount 1 likedByMe true, got %d %v", liked.LikeCount, liked.LikedByMe)
	}
	res := search(t, s, u2, Criteria{})
	if len(res.Rows) != 1 || !res.Rows[0].LikedByMe || res.Rows[0].LikeCount != 1 {
		t.Fatalf("expected A liked by u2 on re-fetch, got %+v", res.Rows)
	}
	_, err = s.Like(ctx, eventA, a.ID, u1)
	expectKind(t, err, domain.ErrAccessDenied, "SELF_LIKE")

	// D: unlike, then unlike again.
	unliked, err := s.Unlike(ctx, eventA, a.ID, u2)
	if err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if unliked.LikeCount != 0 || unliked.LikedByMe {
		t.Fatalf("expected likeCount 0 likedByMe false, got %d %v", unliked.LikeCount, unliked.LikedByMe)
	}
	_, err = s.Unlike(ctx, eventA, a.ID, u2)
	expectKind(t, err, domain.ErrNotFound, "NOT_LIKED")

	// E: author deletes A; B stays attached.
	del, err := s.Delete(ctx, eventA, a.ID, u1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !del.Deleted || del.Content != domain.DeletedContent {
		t.Fatalf("expected placeholder content, got %+v", del.Comment)
	}
	if len(del.ChildComments) != 1 || del.ChildComments[0].ID != b.ID {
		t.Fatalf("expected B under deleted A, got %+v", del.ChildComments)
	}
	res = search(t, s, u3, Criteria{})
	if res.Count != 1 || len(res.Rows[0].ChildComments) != 1 {
		t.Fatalf("expected deleted A with child in search, got %+v", res)
	}
}

func TestSearch_CriteriaValidation(t *testing.T) {
	s, _, _ := newTestService(t)
	tests := []struct {
		name string
		c    Criteria
		code string
	}{
		{"bad sort field", Criteria{SortBy: "content"}, "INVALID_SORT_BY"},
		{"bad direction", Criteria{SortDirection: "sideways"}, "INVALID_SORT_DIRECTION"},
		{"negative offset", Criteria{Offset: -1}, "INVALID_OFFSET"},
		{"zero limit", Criteria{Limit: intPtr(0)}, "INVALID_LIMIT"},
		{"negative limit", Criteria{Limit: intPtr(-3)}, "INVALID_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), eventA, u1, tt.c)
			expectKind(t, err, domain.ErrValidation, tt.code)
		})
	}
}

func TestSearch_UnknownEvent(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Search(context.Background(), "nope", u1, Criteria{SortBy: "bogus"})
	expectKind(t, err, domain.ErrNotFound, "EVENT_NOT_FOUND")
}

func TestSearch_PagingAndCount(t *testing.T) {
	s, _, _ := newTestService(t)
	var roots []domain.CommentNode
	for i := 0; i < 5; i++ {
		roots = append(roots, mustCreate(t, s, eventA, u1, "root", nil))
	}
	mustCreate(t, s, eventA, u2, "child", strPtr(roots[0].ID))
	mustCreate(t, s, eventB, u2, "other event", nil)

	all := search(t, s, u2, Criteria{})
	if all.Count != 5 || len(all.Rows) != 5 {
		t.Fatalf("expected 5 roots, got count=%d rows=%d", all.Count, len(all.Rows))
	}
	if all.Rows[0].ID != roots[4].ID {
		t.Fatalf("expected newest root first")
	}

	page := search(t, s, u2, Criteria{Offset: 1, Limit: intPtr(2), SortDirection: "asc"})
	if page.Count != 5 {
		t.Fatalf("expected count independent of paging, got %d", page.Count)
	}
	if len(page.Rows) != 2 || page.Rows[0].ID != roots[1].ID || page.Rows[1].ID != roots[2].ID {
		t.Fatalf("unexpected page %+v", page.Rows)
	}

	empty := search(t, s, u2, Criteria{Offset: 10})
	if empty.Rows == nil || len(empty.Rows) != 0 || empty.Count != 5 {
		t.Fatalf("expected empty non-nil rows with count 5, got %+v", empty)
	}
}

func TestSearch_SortByLikeCount(t *testing.T) {
	s, _, _ := newTestService(t)
	low := mustCreate(t, s, eventA, u1, "low", nil)
	high := mustCreate(t, s, eventA, u1, "high", nil)
	mid := mustCreate(t, s, eventA, u1, "mid", nil)
	for _, u := range []string{u2, u3} {
		if _, err := s.Like(context.Background(), eventA, high.ID, u); err != nil {
			t.Fatalf("like: %v", err)
		}
	}
	if _, err := s.Like(context.Background(), eventA, mid.ID, u2); err != nil {
		t.Fatalf("like: %v", err)
	}

	res := search(t, s, u2, Criteria{SortBy: "likeCount"})
	want := []string{high.ID, mid.ID, low.ID}
	for i, id := range want {
		if res.Rows[i].ID != id {
			t.Fatalf("row %d: expected %s, got %s", i, id, res.Rows[i].ID)
		}
	}
	if !res.Rows[0].LikedByMe || !res.Rows[1].LikedByMe || res.Rows[2].LikedByMe {
		t.Fatalf("unexpected likedByMe flags for u2")
	}
}

func TestSearch_ChildLikedByMe(t *testing.T) {
	s, _, _ := newTestService(t)
	root := mustCreate(t, s, eventA, u1, "root", nil)
	child := mustCreate(t, s, eventA, u1, "child", strPtr(root.ID))
	if _, err := s.Like(context.Background(), eventA, child.ID, u2); err != nil {
		t.Fatalf("like: %v", err)
	}
	res := search(t, s, u2, Criteria{})
	if res.Rows[0].LikedByMe || !res.Rows[0].ChildComments[0].LikedByMe {
		t.Fatalf("expected only the child liked, got %+v", res.Rows[0])
	}
	other := search(t, s, u3, Criteria{})
	if other.Rows[0].ChildComments[0].LikedByMe {
		t.Fatal("likedByMe must be per viewer")
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	other := mustCreate(t, s, eventB, u1, "elsewhere", nil)
	long := make([]rune, domain.MaxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name    string
		eventID string
		content string
		parent  *string
		kind    error
		code    string
	}{
		{"blank content", eventA, "  ", nil, domain.ErrValidation, "EMPTY_CONTENT"},
		{"too long", eventA, string(long), nil, domain.ErrValidation, "CONTENT_TOO_LONG"},
		{"unknown event", "missing", "hi", nil, domain.ErrNotFound, "EVENT_NOT_FOUND"},
		{"missing parent", eventA, "hi", strPtr("nope"), domain.ErrValidation, "PARENT_NOT_FOUND"},
		{"parent in other event", eventA, "hi", strPtr(other.ID), domain.ErrValidation, "PARENT_EVENT_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.eventID, u1, tt.content, tt.parent)
			expectKind(t, err, tt.kind, tt.code)
		})
	}

	exact := make([]rune, domain.MaxContentLength)
	for i := range exact {
		exact[i] = 'é'
	}
	if _, err := s.Create(ctx, eventA, u1, string(exact), nil); err != nil {
		t.Fatalf("expected 1024 characters to be accepted, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	root := mustCreate(t, s, eventA, u1, "root", nil)
	other := mustCreate(t, s, eventA, u1, "other root", nil)
	child := mustCreate(t, s, eventA, u2, "child", strPtr(root.ID))
	foreign := mustCreate(t, s, eventB, u1, "foreign", nil)

	t.Run("content", func(t *testing.T) {
		n, err := s.Update(ctx, eventA, root.ID, u1, "edited", nil)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if n.Content != "edited" || len(n.ChildComments) != 1 {
			t.Fatalf("unexpected node %+v", n)
		}
		if !n.CreatedAt.Equal(root.CreatedAt) || n.AuthorID != u1 || n.EventID != eventA {
			t.Fatal("immutable fields changed")
		}
	})

	t.Run("move child to another root", func(t *testing.T) {
		n, err := s.Update(ctx, eventA, child.ID, u2, "moved", strPtr(other.ID))
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if *n.ParentCommentID != other.ID {
			t.Fatalf("expected parent %s, got %s", other.ID, *n.ParentCommentID)
		}
	})

	errCases := []struct {
		name      string
		eventID   string
		commentID string
		user      string
		parent    *string
		kind      error
		code      string
	}{
		{"missing comment", eventA, "nope", u1, nil, domain.ErrNotFound, "COMMENT_NOT_FOUND"},
		{"other event", eventA, foreign.ID, u1, nil, domain.ErrValidation, "EVENT_MISMATCH"},
		{"not author", eventA, root.ID, u2, nil, domain.ErrAccessDenied, "NOT_AUTHOR"},
		{"self parent", eventA, root.ID, u1, strPtr(root.ID), domain.ErrValidation, "SELF_PARENT"},
		{"has children", eventA, other.ID, u1, strPtr(root.ID), domain.ErrValidation, "TOO_DEEP"},
		{"parent is child", eventA, root.ID, u1, strPtr(child.ID), domain.ErrValidation, "TOO_DEEP"},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update(ctx, tt.eventID, tt.commentID, tt.user, "x", tt.parent)
			expectKind(t, err, tt.kind, tt.code)
		})
	}
}

func TestUpdate_NilParentMakesRoot(t *testing.T) {
	s, _, _ := newTestService(t)
	root := mustCreate(t, s, eventA, u1, "root", nil)
	child := mustCreate(t, s, eventA, u2, "child", strPtr(root.ID))

	n, err := s.Update(context.Background(), eventA, child.ID, u2, "now a root", nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n.ParentCommentID != nil {
		t.Fatalf("expected root, got parent %s", *n.ParentCommentID)
	}
	if res := search(t, s, u1, Criteria{}); res.Count != 2 {
		t.Fatalf("expected 2 roots, got %d", res.Count)
	}
}

func TestDeletedCommentIsFrozen(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, s, eventA, u1, "bye", nil)
	if _, err := s.Like(ctx, eventA, c.ID, u2); err != nil {
		t.Fatalf("like: %v", err)
	}
	del, err := s.Delete(ctx, eventA, c.ID, u1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if del.LikeCount != 1 {
		t.Fatalf("expected likeCount kept at 1, got %d", del.LikeCount)
	}

	_, err = s.Update(ctx, eventA, c.ID, u1, "again", nil)
	expectKind(t, err, domain.ErrAccessDenied, "COMMENT_DELETED")
	_, err = s.Delete(ctx, eventA, c.ID, u1)
	expectKind(t, err, domain.ErrAccessDenied, "COMMENT_DELETED")
	_, err = s.Like(ctx, eventA, c.ID, u3)
	expectKind(t, err, domain.ErrAccessDenied, "COMMENT_DELETED")
	_, err = s.Unlike(ctx, eventA, c.ID, u2)
	expectKind(t, err, domain.ErrAccessDenied, "COMMENT_DELETED")
}

func TestDelete_NotAuthor(t *testing.T) {
	s, _, _ := newTestService(t)
	c := mustCreate(t, s, eventA, u1, "mine", nil)
	_, err := s.Delete(context.Background(), eventA, c.ID, u2)
	expectKind(t, err, domain.ErrAccessDenied, "NOT_AUTHOR")
}

func TestLike_Twice(t *testing.T) {
	s, _, _ := newTestService(t)
	c := mustCreate(t, s, eventA, u1, "x", nil)
	if _, err := s.Like(context.Background(), eventA, c.ID, u2); err != nil {
		t.Fatalf("like: %v", err)
	}
	_, err := s.Like(context.Background(), eventA, c.ID, u2)
	expectKind(t, err, domain.ErrValidation, "ALREADY_LIKED")
}

func TestLike_ConcurrentDifferentUsers(t *testing.T) {
	s, _, _ := newTestService(t)
	c := mustCreate(t, s, eventA, u1, "popular", nil)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Like(context.Background(), eventA, c.ID, "fan-"+string(rune('a'+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("like: %v", err)
		}
	}
	res := search(t, s, u1, Criteria{})
	if res.Rows[0].LikeCount != n {
		t.Fatalf("expected likeCount %d, got %d", n, res.Rows[0].LikeCount)
	}
}

func TestLike_ConcurrentSameUser(t *testing.T) {
	s, _, _ := newTestService(t)
	c := mustCreate(t, s, eventA, u1, "contested", nil)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Like(context.Background(), eventA, c.ID, u2)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected already-liked validation error, got %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("expected exactly one successful like, got %d", success)
	}
	if res := search(t, s, u2, Criteria{}); res.Rows[0].LikeCount != 1 {
		t.Fatalf("expected likeCount 1, got %d", res.Rows[0].LikeCount)
	}
}

func TestRecountLikes(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, s, eventA, u1, "drifted", nil)
	if _, err := s.Like(ctx, eventA, c.ID, u2); err != nil {
		t.Fatalf("like: %v", err)
	}
	// Corrupt the counter directly.
	err := st.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		_, err := r.Comments().AdjustLikeCount(ctx, c.ID, 41)
		return err
	})
	if err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	n, err := s.RecountLikes(ctx, eventA, c.ID, "admin")
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if n.LikeCount != 1 {
		t.Fatalf("expected likeCount 1 after recount, got %d", n.LikeCount)
	}
}

func TestPublishesAfterCommit(t *testing.T) {
	s, _, pub := newTestService(t)
	ctx := context.Background()
	root := mustCreate(t, s, eventA, u1, "root", nil)
	child := mustCreate(t, s, eventA, u2, "child", strPtr(root.ID))
	_, _ = s.Like(ctx, eventA, root.ID, u2)
	_, _ = s.Unlike(ctx, eventA, root.ID, u2)
	_, _ = s.Update(ctx, eventA, root.ID, u1, "edit", nil)
	_, _ = s.Delete(ctx, eventA, root.ID, u1)
	_, _ = s.Like(ctx, eventA, root.ID, u2) // rejected, nothing published

	want := []string{SubjectCreated, SubjectCreated, SubjectLiked, SubjectUnliked, SubjectUpdated, SubjectDeleted}
	if len(pub.msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(pub.msgs))
	}
	for i, subj := range want {
		if pub.msgs[i].subject != subj {
			t.Fatalf("message %d: expected %s, got %s", i, subj, pub.msgs[i].subject)
		}
	}
	if pub.msgs[1].props["parent_comment_id"] != root.ID || pub.msgs[1].props["comment_id"] != child.ID {
		t.Fatalf("unexpected child props %+v", pub.msgs[1].props)
	}
	if pub.msgs[2].userID != u2 || pub.msgs[2].props["like_count"] != 1 {
		t.Fatalf("unexpected like message %+v", pub.msgs[2])
	}
}

func TestNilPublisherAndLogger(t *testing.T) {
	s := NewService(store.NewInMemoryStore(), events.NewStaticLookup(domain.Event{ID: eventA}), nil, nil)
	if _, err := s.Create(context.Background(), eventA, u1, "quiet", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
}
