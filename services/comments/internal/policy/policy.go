// Package policy holds the ownership and membership predicates applied to comments.
package policy

import "github.com/example/event-engagement/services/comments/internal/domain"

// IsOwner reports whether userID authored c.
func IsOwner(c domain.Comment, userID string) bool {
	return userID != "" && c.AuthorID == userID
}

// IsSelfLike reports whether a like by userID would be on their own comment.
func IsSelfLike(c domain.Comment, userID string) bool {
	return IsOwner(c, userID)
}

// BelongsToEvent reports whether c was posted on eventID.
func BelongsToEvent(c domain.Comment, eventID string) bool {
	return c.EventID == eventID
}
