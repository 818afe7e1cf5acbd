package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the maximum comment length in characters.
const MaxContentLength = 1024

// DeletedContent replaces the content of a soft-deleted comment.
const DeletedContent = "This comment has been deleted"

// Comment is one post in an event's thread. A nil ParentCommentID marks a root comment.
type Comment struct {
	ID              string    `json:"id"`
	EventID         string    `json:"eventId"`
	AuthorID        string    `json:"authorId"`
	Content         string    `json:"content"`
	ParentCommentID *string   `json:"parentCommentId"`
	LikeCount       int       `json:"likeCount"`
	CreatedAt       time.Time `json:"createdAt"`
	Deleted         bool      `json:"deleted"`
}

// IsRoot reports whether c has no parent.
func (c Comment) IsRoot() bool { return c.ParentCommentID == nil }

// Like is one user's like of one comment.
type Like struct {
	ID        string    `json:"id"`
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentNode is a comment as returned to a viewer: its direct children and
// whether the viewer liked it.
type CommentNode struct {
	Comment
	ChildComments []CommentNode `json:"childComments"`
	LikedByMe     bool          `json:"likedByMe"`
}

// SearchResult is one page of root comments. Count is the total number of
// root comments of the event, independent of paging.
type SearchResult struct {
	Count int64         `json:"count"`
	Rows  []CommentNode `json:"rows"`
}

// Event is the subset of the external event record this service needs.
type Event struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// ValidateContent checks the content rules shared by create and update.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return Invalid("EMPTY_CONTENT", "content must not be blank")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return Invalid("CONTENT_TOO_LONG", "content must be at most 1024 characters")
	}
	return nil
}

// ValidateNewComment checks the fields a new comment must carry.
func ValidateNewComment(c Comment) error {
	if strings.TrimSpace(c.EventID) == "" {
		return Invalid("MISSING_EVENT_ID", "eventId is required")
	}
	if strings.TrimSpace(c.AuthorID) == "" {
		return Invalid("MISSING_AUTHOR_ID", "authorId is required")
	}
	return ValidateContent(c.Content)
}
