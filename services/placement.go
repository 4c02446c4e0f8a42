package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sknet/auth"
	"sknet/models"
	"sknet/monitoring"
	"sknet/store"
)

type AccountFields struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,email,max=255"`
	Phone    string `validate:"required,max=32"`
	FullName string `validate:"required,max=128"`
	Password string `validate:"required,password"`
}

func (f *AccountFields) normalize() {
	f.Username = strings.ToLower(strings.TrimSpace(f.Username))
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Phone = strings.TrimSpace(f.Phone)
	f.FullName = strings.TrimSpace(f.FullName)
}

// PlacementRequest places a member under UnderUserID. SponsorID is
// informational and may be empty.
type PlacementRequest struct {
	IdempotencyKey string     `validate:"required,max=128"`
	PinCode        string     `validate:"required"`
	SponsorID      string     `validate:"omitempty,max=64"`
	UnderUserID    string     `validate:"required"`
	Leg            models.Leg `validate:"required,oneof=left right"`
	Account        AccountFields
}

type PlacementResult struct {
	Member models.Member   `json:"member"`
	Node   models.TreeNode `json:"node"`
}

// PlaceMember redeems a PIN and creates a member at the exact requested
// position. Everything up to the Event record commits atomically; reward
// evaluation runs afterwards and never fails the placement.
func (n *Network) PlaceMember(ctx context.Context, req PlacementRequest) (*PlacementResult, error) {
	req.Account.normalize()
	req.PinCode = NormalizePin(req.PinCode)
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Account.Password)
	if err != nil {
		return nil, n.fail("hash password", err)
	}

	now := n.now()
	newID := n.store.NewID()
	var res PlacementResult

	err = n.store.Transaction(ctx, func(ctx context.Context) error {
		if _, err := n.RedeemPin(ctx, req.PinCode, newID); err != nil {
			return err
		}
		if req.SponsorID != "" {
			if _, err := n.store.GetMember(ctx, req.SponsorID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrSponsorNotFound
				}
				return err
			}
		}
		parent, err := n.store.GetTreeNode(ctx, req.UnderUserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrParentNotFound
			}
			return err
		}
		if parent.Child(req.Leg) != "" {
			return ErrLegOccupied
		}

		res.Member = models.Member{
			ID:           newID,
			Username:     req.Account.Username,
			Email:        req.Account.Email,
			Phone:        req.Account.Phone,
			FullName:     req.Account.FullName,
			PasswordHash: hash,
			SponsorID:    req.SponsorID,
			UnderUserID:  req.UnderUserID,
			Leg:          req.Leg,
			Status:       models.MemberActive,
			CreatedAt:    now,
		}
		if err := n.store.CreateMember(ctx, &res.Member); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAccountTaken
			}
			return err
		}

		ancestors := make([]string, 0, len(parent.Ancestors)+1)
		ancestors = append(ancestors, parent.Ancestors...)
		ancestors = append(ancestors, parent.UserID)
		res.Node = models.TreeNode{
			UserID:       newID,
			ParentUserID: parent.UserID,
			Leg:          req.Leg,
			Ancestors:    ancestors,
			Depth:        parent.Depth + 1,
			CreatedAt:    now,
		}
		if err := n.store.CreateTreeNode(ctx, &res.Node); err != nil {
			return err
		}
		if err := n.store.ClaimLeg(ctx, parent.UserID, req.Leg, newID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrLegOccupied
			}
			return err
		}
		if err := n.store.CreateStats(ctx, newStats(newID, now)); err != nil {
			return err
		}
		if req.SponsorID != "" {
			if err := n.store.IncrementDirect(ctx, req.SponsorID, now); err != nil {
				return err
			}
		}
		if err := n.propagate(ctx, &res.Node); err != nil {
			return err
		}
		return n.record(ctx, req.IdempotencyKey, models.EventAccountCreated, newID, newID,
			map[string]interface{}{"sponsorId": req.SponsorID, "underUserId": req.UnderUserID, "leg": string(req.Leg)})
	})
	if err != nil {
		return nil, n.fail("place member", err)
	}

	monitoring.MembersPlaced.WithLabelValues(string(req.Leg)).Inc()
	n.log.Info("member placed",
		zap.String("userId", newID),
		zap.String("parent", req.UnderUserID),
		zap.String("leg", string(req.Leg)),
		zap.Int("depth", res.Node.Depth))

	n.evaluateAfterPlacement(ctx, append(append([]string{}, res.Node.Ancestors...), newID))
	n.notifier.Notify(ctx, req.UnderUserID, models.Notification{
		Type:  "member_placed",
		Title: "New team member",
		Body:  fmt.Sprintf("%s joined your %s leg", res.Member.Username, req.Leg),
		Data:  map[string]interface{}{"userId": newID, "leg": string(req.Leg)},
	})
	if req.SponsorID != "" && req.SponsorID != req.UnderUserID {
		n.notifier.Notify(ctx, req.SponsorID, models.Notification{
			Type:  "direct_referral",
			Title: "New direct referral",
			Body:  res.Member.Username + " joined with your sponsorship",
			Data:  map[string]interface{}{"userId": newID},
		})
	}
	return &res, nil
}

// propagate adds the new node to every ancestor's leg counts with one
// batched read of the path and one batched increment.
func (n *Network) propagate(ctx context.Context, node *models.TreeNode) error {
	if len(node.Ancestors) == 0 {
		return nil
	}
	path, err := n.store.GetTreeNodes(ctx, node.Ancestors[1:])
	if err != nil {
		return err
	}
	legOf := make(map[string]models.Leg, len(path))
	for _, p := range path {
		legOf[p.UserID] = p.Leg
	}
	left, right, err := legSides(node.Ancestors, node.Leg, legOf)
	if err != nil {
		return err
	}
	return n.store.IncrementLegCounts(ctx, left, right, n.now())
}

// legSides splits ancestors by the side the new node hangs from. The side
// for ancestors[i] is the leg of the next node on the path to the new node;
// the last ancestor is the parent and uses the new node's own leg.
func legSides(ancestors []string, newLeg models.Leg, legOf map[string]models.Leg) (left, right []string, err error) {
	for i, a := range ancestors {
		side := newLeg
		if i+1 < len(ancestors) {
			next := ancestors[i+1]
			leg, ok := legOf[next]
			if !ok || !leg.Valid() {
				return nil, nil, fmt.Errorf("tree node %s missing from ancestor path", next)
			}
			side = leg
		}
		if side == models.LegLeft {
			left = append(left, a)
		} else {
			right = append(right, a)
		}
	}
	return left, right, nil
}

func newStats(userID string, now time.Time) *models.UserStats {
	return &models.UserStats{
		UserID:      userID,
		CurrentRank: models.InitialRank,
		HighestRank: models.InitialRank,
		LastUpdated: now,
	}
}

// evaluateAfterPlacement runs reward evaluation for each id. Failures are
// logged and queued for retry.
func (n *Network) evaluateAfterPlacement(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := n.CheckAndAward(ctx, id); err != nil {
			monitoring.RewardRetries.Inc()
			n.log.Warn("reward evaluation failed", zap.String("userId", id), zap.Error(err))
			if n.retry == nil {
				continue
			}
			if qerr := n.retry.EnqueueRewardCheck(ctx, id); qerr != nil {
				n.log.Error("enqueue reward retry failed", zap.String("userId", id), zap.Error(qerr))
			}
		}
	}
}

type RootRequest struct {
	Account AccountFields
}

// CreateRoot creates the single depth-0 member. It only succeeds while the
// network is empty.
func (n *Network) CreateRoot(ctx context.Context, req RootRequest) (*PlacementResult, error) {
	req.Account.normalize()
	if err := check(req); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Account.Password)
	if err != nil {
		return nil, n.fail("hash password", err)
	}

	now := n.now()
	id := n.store.NewID()
	var res PlacementResult
	err = n.store.Transaction(ctx, func(ctx context.Context) error {
		if err := n.seen(ctx, models.RootEventKey); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrRootExists
			}
			return err
		}
		count, err := n.store.CountMembers(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrRootExists
		}
		res.Member = models.Member{
			ID:           id,
			Username:     req.Account.Username,
			Email:        req.Account.Email,
			Phone:        req.Account.Phone,
			FullName:     req.Account.FullName,
			PasswordHash: hash,
			Status:       models.MemberActive,
			CreatedAt:    now,
		}
		if err := n.store.CreateMember(ctx, &res.Member); err != nil {
			return err
		}
		res.Node = models.TreeNode{UserID: id, Ancestors: []string{}, Depth: 0, CreatedAt: now}
		if err := n.store.CreateTreeNode(ctx, &res.Node); err != nil {
			return err
		}
		if err := n.store.CreateStats(ctx, newStats(id, now)); err != nil {
			return err
		}
		if err := n.record(ctx, models.RootEventKey, models.EventRootCreated, id, id, nil); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrRootExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, n.fail("create root", err)
	}
	n.log.Info("root member created", zap.String("userId", id))
	return &res, nil
}
