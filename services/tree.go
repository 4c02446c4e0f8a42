package services

import (
	"context"
	"errors"

	"sknet/models"
	"sknet/store"
)

const MaxTreeDepth = 6

type TreeStatus struct {
	UserID       string `json:"userId"`
	Depth        int    `json:"depth"`
	LeftChildID  string `json:"leftChildId"`
	RightChildID string `json:"rightChildId"`
	CanAddLeft   bool   `json:"canAddLeft"`
	CanAddRight  bool   `json:"canAddRight"`
}

func (n *Network) TreeStatus(ctx context.Context, userID string) (*TreeStatus, error) {
	node, err := n.node(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TreeStatus{
		UserID:       node.UserID,
		Depth:        node.Depth,
		LeftChildID:  node.LeftChildID,
		RightChildID: node.RightChildID,
		CanAddLeft:   node.LeftChildID == "",
		CanAddRight:  node.RightChildID == "",
	}, nil
}

// TreeView is one node of a rendered subtree.
type TreeView struct {
	Member models.MemberSummary `json:"member"`
	Leg    models.Leg           `json:"leg,omitempty"`
	Depth  int                  `json:"depth"`
	Stats  *models.UserStats    `json:"stats,omitempty"`
	Left   *TreeView            `json:"left,omitempty"`
	Right  *TreeView            `json:"right,omitempty"`
}

// Subtree renders up to depth levels below rootID, one batched read per
// level. Members may only view their own downline.
func (n *Network) Subtree(ctx context.Context, actor Actor, rootID string, depth int) (*TreeView, error) {
	if depth <= 0 || depth > MaxTreeDepth {
		depth = MaxTreeDepth
	}
	root, err := n.node(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && root.UserID != actor.UserID && !contains(root.Ancestors, actor.UserID) {
		return nil, ErrForbidden
	}

	views := map[string]*TreeView{}
	nodes := map[string]models.TreeNode{root.UserID: *root}
	level := []string{root.UserID}
	for d := 0; d <= depth && len(level) > 0; d++ {
		if d > 0 {
			found, err := n.store.GetTreeNodes(ctx, level)
			if err != nil {
				return nil, n.fail("load tree level", err)
			}
			for _, nd := range found {
				nodes[nd.UserID] = nd
			}
		}
		members, err := n.store.GetMembers(ctx, level)
		if err != nil {
			return nil, n.fail("load tree members", err)
		}
		stats, err := n.store.ListStats(ctx, level)
		if err != nil {
			return nil, n.fail("load tree stats", err)
		}
		for _, m := range members {
			nd := nodes[m.ID]
			views[m.ID] = &TreeView{Member: m.Summary(), Leg: nd.Leg, Depth: nd.Depth - root.Depth}
		}
		for i := range stats {
			if v, ok := views[stats[i].UserID]; ok {
				v.Stats = &stats[i]
			}
		}

		var next []string
		for _, id := range level {
			nd, ok := nodes[id]
			if !ok || d == depth {
				continue
			}
			for _, child := range []string{nd.LeftChildID, nd.RightChildID} {
				if child != "" {
					next = append(next, child)
				}
			}
		}
		level = next
	}

	for id, v := range views {
		nd := nodes[id]
		v.Left = views[nd.LeftChildID]
		v.Right = views[nd.RightChildID]
	}
	view, ok := views[root.UserID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return view, nil
}

func (n *Network) node(ctx context.Context, userID string) (*models.TreeNode, error) {
	node, err := n.store.GetTreeNode(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, n.fail("load tree node", err)
	}
	return node, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
