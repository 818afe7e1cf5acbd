package thread

import (
	"context"
	"fmt"

	"github.com/example/event-engagement/services/comments/internal/domain"
	"github.com/example/event-engagement/services/comments/internal/store"
)

// populate attaches direct children to each root and marks what viewerID
// liked, using one child fetch and one like fetch for the whole set.
func populate(ctx context.Context, r store.Repos, comments []domain.Comment, viewerID string) ([]domain.CommentNode, error) {
	if len(comments) == 0 {
		return []domain.CommentNode{}, nil
	}

	var rootIDs []string
	for _, c := range comments {
		if c.IsRoot() {
			rootIDs = append(rootIDs, c.ID)
		}
	}

	byParent := make(map[string][]domain.Comment)
	allIDs := make([]string, 0, len(comments))
	for _, c := range comments {
		allIDs = append(allIDs, c.ID)
	}
	if len(rootIDs) > 0 {
		children, err := r.Comments().ListChildrenByParentIDs(ctx, rootIDs)
		if err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		for _, ch := range children {
			byParent[*ch.ParentCommentID] = append(byParent[*ch.ParentCommentID], ch)
			allIDs = append(allIDs, ch.ID)
		}
	}

	likes, err := r.Likes().ListByCommentIDsAndUser(ctx, allIDs, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list likes: %w", err)
	}
	liked := make(map[string]bool, len(likes))
	for _, l := range likes {
		liked[l.CommentID] = true
	}

	nodes := make([]domain.CommentNode, len(comments))
	for i, c := range comments {
		kids := byParent[c.ID]
		childNodes := make([]domain.CommentNode, len(kids))
		for j, k := range kids {
			childNodes[j] = domain.CommentNode{
				Comment:       k,
				ChildComments: []domain.CommentNode{},
				LikedByMe:     liked[k.ID],
			}
		}
		nodes[i] = domain.CommentNode{
			Comment:       c,
			ChildComments: childNodes,
			LikedByMe:     liked[c.ID],
		}
	}
	return nodes, nil
}

func populateOne(ctx context.Context, r store.Repos, c domain.Comment, viewerID string) (domain.CommentNode, error) {
	nodes, err := populate(ctx, r, []domain.Comment{c}, viewerID)
	if err != nil {
		return domain.CommentNode{}, err
	}
	return nodes[0], nil
}
