package services

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"sknet/models"
	"sknet/monitoring"
	"sknet/store"
)

// CheckAndAward creates a pending reward for every active tier whose
// threshold the member's totalCount has reached, and raises the member's
// rank to the highest such tier. Running it again changes nothing.
func (n *Network) CheckAndAward(ctx context.Context, userID string) ([]models.UserReward, error) {
	stats, err := n.store.GetStats(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	tiers, err := n.store.ListRewardTiers(ctx, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Order < tiers[j].Order })

	now := n.now()
	var (
		awarded []models.UserReward
		best    *models.RewardTier
	)
	for i := range tiers {
		tier := &tiers[i]
		if stats.TotalCount < tier.Threshold {
			continue
		}
		if best == nil || tier.Order > best.Order {
			best = tier
		}
		reward := models.UserReward{
			ID:        models.RewardID(userID, tier.Order),
			UserID:    userID,
			TierOrder: tier.Order,
			Rank:      tier.Rank,
			BonusRs:   tier.BonusRs,
			Status:    models.RewardPending,
			AwardedAt: now,
		}
		err := n.store.CreateUserReward(ctx, &reward)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return awarded, err
		}
		awarded = append(awarded, reward)
	}

	if best != nil && best.Order > stats.RankOrder {
		if _, err := n.store.RaiseRank(ctx, userID, best.Rank, best.Order, now); err != nil {
			return awarded, err
		}
	}

	for _, r := range awarded {
		monitoring.RewardsAwarded.Inc()
		n.log.Info("reward unlocked", zap.String("userId", userID), zap.Int("tier", r.TierOrder), zap.String("rank", r.Rank))
		n.notifier.Notify(ctx, userID, models.Notification{
			Type:  "reward_unlocked",
			Title: "Reward unlocked: " + r.Rank,
			Body:  "Your team reached a new reward tier",
			Data:  map[string]interface{}{"tierOrder": r.TierOrder, "bonusRs": r.BonusRs},
		})
	}
	return awarded, nil
}

func (n *Network) RewardTiers(ctx context.Context, activeOnly bool) ([]models.RewardTier, error) {
	tiers, err := n.store.ListRewardTiers(ctx, activeOnly)
	if err != nil {
		return nil, n.fail("list reward tiers", err)
	}
	return tiers, nil
}

type TierRequest struct {
	Order     int    `validate:"min=1"`
	Threshold int64  `validate:"min=1"`
	Rank      string `validate:"required,max=32"`
	BonusRs   int64  `validate:"min=0"`
	IsActive  bool
}

func (n *Network) UpsertTier(ctx context.Context, actor Actor, req TierRequest) (*models.RewardTier, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if err := check(req); err != nil {
		return nil, err
	}
	tier := &models.RewardTier{
		Order:     req.Order,
		Threshold: req.Threshold,
		Rank:      req.Rank,
		BonusRs:   req.BonusRs,
		IsActive:  req.IsActive,
	}
	if err := n.store.UpsertRewardTier(ctx, tier); err != nil {
		return nil, n.fail("upsert tier", err)
	}
	return tier, nil
}

// SeedTiers upserts tiers without an actor; used by the CLI.
func (n *Network) SeedTiers(ctx context.Context, tiers []models.RewardTier) error {
	for i := range tiers {
		if _, err := n.UpsertTier(ctx, Actor{Admin: true}, TierRequest{
			Order:     tiers[i].Order,
			Threshold: tiers[i].Threshold,
			Rank:      tiers[i].Rank,
			BonusRs:   tiers[i].BonusRs,
			IsActive:  tiers[i].IsActive,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTiers is the star ladder shown to members.
func DefaultTiers() []models.RewardTier {
	ladder := []struct {
		threshold int64
		bonus     int64
	}{
		{30, 200}, {50, 500}, {100, 1500}, {500, 20000}, {2500, 40000}, {5000, 80000},
		{10000, 150000}, {20000, 300000}, {30000, 500000}, {50000, 1000000}, {100000, 2000000},
	}
	tiers := make([]models.RewardTier, len(ladder))
	for i, step := range ladder {
		tiers[i] = models.RewardTier{
			Order:     i + 1,
			Threshold: step.threshold,
			Rank:      starRank(i + 1),
			BonusRs:   step.bonus,
			IsActive:  true,
		}
	}
	return tiers
}

func starRank(order int) string {
	return strconv.Itoa(order) + " Star"
}

func (n *Network) MyRewards(ctx context.Context, userID string) ([]models.UserReward, error) {
	rewards, err := n.store.ListUserRewards(ctx, store.RewardFilter{UserID: userID})
	if err != nil {
		return nil, n.fail("list rewards", err)
	}
	return rewards, nil
}

func (n *Network) ListRewards(ctx context.Context, actor Actor, status models.RewardStatus) ([]models.UserReward, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	rewards, err := n.store.ListUserRewards(ctx, store.RewardFilter{Status: status})
	if err != nil {
		return nil, n.fail("list rewards", err)
	}
	return rewards, nil
}

type PayRewardRequest struct {
	IdempotencyKey string `validate:"required,max=128"`
	RewardID       string `validate:"required"`
	Notes          string `validate:"max=500"`
}

// PayReward marks a pending reward paid and credits its bonus to the
// member's earnings.
func (n *Network) PayReward(ctx context.Context, actor Actor, req PayRewardRequest) (*models.UserReward, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, ErrForbidden
	}
	reward, err := n.store.GetUserReward(ctx, req.RewardID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, n.fail("load reward", err)
	}
	if reward.Status != models.RewardPending {
		return nil, ErrRewardAlreadyPaid
	}

	now := n.now()
	err = n.store.Transaction(ctx, func(ctx context.Context) error {
		if err := n.store.MarkRewardPaid(ctx, reward.ID, now, req.Notes); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrRewardAlreadyPaid
			}
			return err
		}
		if err := n.store.CreditEarnings(ctx, reward.UserID, reward.BonusRs, now); err != nil {
			return err
		}
		return n.record(ctx, req.IdempotencyKey, models.EventRewardPaid, reward.ID, actor.UserID,
			map[string]interface{}{"bonusRs": reward.BonusRs})
	})
	if err != nil {
		return nil, n.fail("pay reward", err)
	}

	reward.Status = models.RewardPaid
	reward.PaidAt = &now
	reward.Notes = req.Notes
	n.notifier.Notify(ctx, reward.UserID, models.Notification{
		Type:  "reward_paid",
		Title: "Reward paid",
		Body:  reward.Rank + " bonus credited to your balance",
		Data:  map[string]interface{}{"rewardId": reward.ID, "bonusRs": reward.BonusRs},
	})
	return reward, nil
}
