package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

const pgUniqueViolation = "23505"

const commentColumns = `id, event_id, author_id, content, parent_comment_id, like_count, created_at, deleted`

var sortColumns = map[string]string{
	SortCreatedAt: "created_at",
	SortLikeCount: "like_count",
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists comments and likes in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, pgRepos{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgRepos struct {
	q querier
}

func (r pgRepos) Comments() CommentStore { return pgComments(r) }
func (r pgRepos) Likes() LikeStore       { return pgLikes(r) }

type pgComments pgRepos

func scanComment(row pgx.Row) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.ID, &c.EventID, &c.AuthorID, &c.Content,
		&c.ParentCommentID, &c.LikeCount, &c.CreatedAt, &c.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, ErrNotFound
	}
	return c, err
}

func (s pgComments) list(ctx context.Context, q string, args ...any) ([]domain.Comment, error) {
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s pgComments) Create(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if err := domain.ValidateNewComment(c); err != nil {
		return domain.Comment{}, err
	}
	const q = `INSERT INTO event_comments (event_id, author_id, content, parent_comment_id)
	           VALUES ($1, $2, $3, $4)
	           RETURNING ` + commentColumns
	return scanComment(s.q.QueryRow(ctx, q, c.EventID, c.AuthorID, c.Content, c.ParentCommentID))
}

func (s pgComments) GetByID(ctx context.Context, id string) (domain.Comment, error) {
	const q = `SELECT ` + commentColumns + ` FROM event_comments WHERE id = $1`
	return scanComment(s.q.QueryRow(ctx, q, id))
}

func (s pgComments) GetForUpdate(ctx context.Context, id string) (domain.Comment, error) {
	const q = `SELECT ` + commentColumns + ` FROM event_comments WHERE id = $1 FOR UPDATE`
	return scanComment(s.q.QueryRow(ctx, q, id))
}

func (s pgComments) ListRootComments(ctx context.Context, eventID string, p Page) ([]domain.Comment, int64, error) {
	col, ok := sortColumns[p.SortBy]
	if !ok || !validPage(p) {
		return nil, 0, fmt.Errorf("invalid page: sortBy=%q sortDir=%q", p.SortBy, p.SortDir)
	}
	dir := "DESC"
	if p.SortDir == DirAsc {
		dir = "ASC"
	}

	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM event_comments WHERE event_id = $1 AND parent_comment_id IS NULL`,
		eventID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// LIMIT NULL is unbounded.
	q := fmt.Sprintf(`SELECT %s FROM event_comments
	      WHERE event_id = $1 AND parent_comment_id IS NULL
	      ORDER BY %s %s, created_at %s, id %s
	      LIMIT $2 OFFSET $3`, commentColumns, col, dir, dir, dir)
	roots, err := s.list(ctx, q, eventID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	if roots == nil {
		roots = []domain.Comment{}
	}
	return roots, total, nil
}

func (s pgComments) ListChildrenByParentIDs(ctx context.Context, parentIDs []string) ([]domain.Comment, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	const q = `SELECT ` + commentColumns + ` FROM event_comments
	           WHERE parent_comment_id = ANY($1)
	           ORDER BY created_at ASC, id ASC`
	return s.list(ctx, q, parentIDs)
}

func (s pgComments) HasChildren(ctx context.Context, parentID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_comments WHERE parent_comment_id = $1)`,
		parentID).Scan(&exists)
	return exists, err
}

func (s pgComments) Save(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	const q = `UPDATE event_comments
	           SET content = $2, parent_comment_id = $3, like_count = GREATEST($4, 0), deleted = $5
	           WHERE id = $1
	           RETURNING ` + commentColumns
	return scanComment(s.q.QueryRow(ctx, q, c.ID, c.Content, c.ParentCommentID, c.LikeCount, c.Deleted))
}

func (s pgComments) AdjustLikeCount(ctx context.Context, id string, delta int) (domain.Comment, error) {
	const q = `UPDATE event_comments
	           SET like_count = GREATEST(like_count + $2, 0)
	           WHERE id = $1
	           RETURNING ` + commentColumns
	return scanComment(s.q.QueryRow(ctx, q, id, delta))
}

type pgLikes pgRepos

func (s pgLikes) Exists(ctx context.Context, commentID, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_comment_likes WHERE comment_id = $1 AND user_id = $2)`,
		commentID, userID).Scan(&exists)
	return exists, err
}

func (s pgLikes) Count(ctx context.Context, commentID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM event_comment_likes WHERE comment_id = $1`, commentID).Scan(&n)
	return n, err
}

func (s pgLikes) Create(ctx context.Context, commentID, userID string) (domain.Like, error) {
	const q = `INSERT INTO event_comment_likes (comment_id, user_id)
	           VALUES ($1, $2)
	           RETURNING id, comment_id, user_id, created_at`
	var l domain.Like
	err := s.q.QueryRow(ctx, q, commentID, userID).Scan(&l.ID, &l.CommentID, &l.UserID, &l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Like{}, ErrConflict
		}
		return domain.Like{}, err
	}
	return l, nil
}

func (s pgLikes) Delete(ctx context.Context, commentID, userID string) error {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM event_comment_likes WHERE comment_id = $1 AND user_id = $2`,
		commentID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s pgLikes) ListByCommentIDsAndUser(ctx context.Context, commentIDs []string, userID string) ([]domain.Like, error) {
	if len(commentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, comment_id, user_id, created_at FROM event_comment_likes
		 WHERE comment_id = ANY($1) AND user_id = $2`,
		commentIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Like
	for rows.Next() {
		var l domain.Like
		if err := rows.Scan(&l.ID, &l.CommentID, &l.UserID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)
