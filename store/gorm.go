package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sknet/models"
)

type txKey struct{}

var _ Store = (*GormStore)(nil)

// GormStore implements Store on SQLite or Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) NewID() string {
	return uuid.NewString()
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key") {
		return ErrDuplicate
	}
	return err
}

// updated maps a conditional update to ErrConflict when nothing matched.
func updated(res *gorm.DB) error {
	if res.Error != nil {
		return gormErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) first(ctx context.Context, dst interface{}, query string, args ...interface{}) error {
	return gormErr(s.conn(ctx).Where(query, args...).First(dst).Error)
}

// ===== members =====

func (s *GormStore) CountMembers(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Member{}).Count(&n).Error
	return n, gormErr(err)
}

func (s *GormStore) CreateMember(ctx context.Context, m *models.Member) error {
	return gormErr(s.conn(ctx).Create(m).Error)
}

func (s *GormStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := s.first(ctx, &m, "id = ?", id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) FindMemberByLogin(ctx context.Context, login string) (*models.Member, error) {
	var m models.Member
	if err := s.first(ctx, &m, "email = ? OR username = ?", login, login); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) GetMembers(ctx context.Context, ids []string) ([]models.Member, error) {
	var out []models.Member
	if len(ids) == 0 {
		return out, nil
	}
	err := s.conn(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, gormErr(err)
}

func (s *GormStore) ListMembers(ctx context.Context, f MemberFilter) ([]models.Member, error) {
	q := s.conn(ctx).Order("created_at DESC").Limit(limitOr(f.Limit, 100)).Offset(f.Offset)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Member
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) UpdateMemberStatus(ctx context.Context, id string, status models.MemberStatus) error {
	res := s.conn(ctx).Model(&models.Member{}).Where("id = ?", id).Update("status", status)
	if err := updated(res); err != nil {
		if err == ErrConflict {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *GormStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	res := s.conn(ctx).Model(&models.Member{}).Where("id = ?", id).Update("password_hash", hash)
	if err := updated(res); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *GormStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return gormErr(s.conn(ctx).Model(&models.Member{}).Where("id = ?", id).Update("last_login_at", at).Error)
}

// ===== tree =====

func (s *GormStore) CreateTreeNode(ctx context.Context, n *models.TreeNode) error {
	return gormErr(s.conn(ctx).Create(n).Error)
}

func (s *GormStore) GetTreeNode(ctx context.Context, userID string) (*models.TreeNode, error) {
	var n models.TreeNode
	if err := s.first(ctx, &n, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *GormStore) GetTreeNodes(ctx context.Context, userIDs []string) ([]models.TreeNode, error) {
	var out []models.TreeNode
	if len(userIDs) == 0 {
		return out, nil
	}
	err := s.conn(ctx).Where("user_id IN ?", userIDs).Find(&out).Error
	return out, gormErr(err)
}

func (s *GormStore) ClaimLeg(ctx context.Context, parentID string, leg models.Leg, childID string) error {
	col := "right_child_id"
	if leg == models.LegLeft {
		col = "left_child_id"
	}
	res := s.conn(ctx).Model(&models.TreeNode{}).
		Where("user_id = ? AND "+col+" = ?", parentID, "").
		Update(col, childID)
	err := updated(res)
	if err != ErrConflict {
		return err
	}
	if _, getErr := s.GetTreeNode(ctx, parentID); getErr != nil {
		return getErr
	}
	return ErrConflict
}

// ===== stats =====

func (s *GormStore) CreateStats(ctx context.Context, st *models.UserStats) error {
	return gormErr(s.conn(ctx).Create(st).Error)
}

func (s *GormStore) GetStats(ctx context.Context, userID string) (*models.UserStats, error) {
	var st models.UserStats
	if err := s.first(ctx, &st, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *GormStore) ListStats(ctx context.Context, userIDs []string) ([]models.UserStats, error) {
	var out []models.UserStats
	if len(userIDs) == 0 {
		return out, nil
	}
	err := s.conn(ctx).Where("user_id IN ?", userIDs).Find(&out).Error
	return out, gormErr(err)
}

func (s *GormStore) IncrementLegCounts(ctx context.Context, left, right []string, at time.Time) error {
	inc := func(ids []string, col string) error {
		if len(ids) == 0 {
			return nil
		}
		res := s.conn(ctx).Model(&models.UserStats{}).Where("user_id IN ?", ids).Updates(map[string]interface{}{
			col:            gorm.Expr(col + " + 1"),
			"total_count":  gorm.Expr("total_count + 1"),
			"last_updated": at,
		})
		if res.Error != nil {
			return gormErr(res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: %s updated %d of %d stats rows", ErrNotFound, col, res.RowsAffected, len(ids))
		}
		return nil
	}
	if err := inc(left, "left_count"); err != nil {
		return err
	}
	return inc(right, "right_count")
}

func (s *GormStore) IncrementDirect(ctx context.Context, userID string, at time.Time) error {
	res := s.conn(ctx).Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"direct_count": gorm.Expr("direct_count + 1"),
		"last_updated": at,
	})
	if err := updated(res); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *GormStore) RaiseRank(ctx context.Context, userID, rank string, order int, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.UserStats{}).
		Where("user_id = ? AND rank_order < ?", userID, order).
		Updates(map[string]interface{}{
			"current_rank": rank,
			"highest_rank": rank,
			"rank_order":   order,
			"last_updated": at,
		})
	if res.Error != nil {
		return false, gormErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CreditEarnings(ctx context.Context, userID string, amount int64, at time.Time) error {
	res := s.conn(ctx).Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"total_earnings": gorm.Expr("total_earnings + ?", amount),
		"last_updated":   at,
	})
	if err := updated(res); err == ErrConflict {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *GormStore) ReserveWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error {
	res := s.conn(ctx).Model(&models.UserStats{}).
		Where("user_id = ? AND total_earnings - withdrawn >= ?", userID, amount).
		Updates(map[string]interface{}{
			"withdrawn":    gorm.Expr("withdrawn + ?", amount),
			"last_updated": at,
		})
	return updated(res)
}

func (s *GormStore) ReleaseWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error {
	res := s.conn(ctx).Model(&models.UserStats{}).
		Where("user_id = ? AND withdrawn >= ?", userID, amount).
		Updates(map[string]interface{}{
			"withdrawn":    gorm.Expr("withdrawn - ?", amount),
			"last_updated": at,
		})
	return updated(res)
}

// ===== rewards =====

func (s *GormStore) ListRewardTiers(ctx context.Context, activeOnly bool) ([]models.RewardTier, error) {
	q := s.conn(ctx).Order("tier_order ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []models.RewardTier
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) UpsertRewardTier(ctx context.Context, t *models.RewardTier) error {
	return gormErr(s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tier_order"}},
		DoUpdates: clause.AssignmentColumns([]string{"threshold", "rank", "bonus_rs", "is_active"}),
	}).Create(t).Error)
}

func (s *GormStore) CreateUserReward(ctx context.Context, r *models.UserReward) error {
	return gormErr(s.conn(ctx).Create(r).Error)
}

func (s *GormStore) GetUserReward(ctx context.Context, id string) (*models.UserReward, error) {
	var r models.UserReward
	if err := s.first(ctx, &r, "id = ?", id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) ListUserRewards(ctx context.Context, f RewardFilter) ([]models.UserReward, error) {
	q := s.conn(ctx).Order("awarded_at DESC").Limit(limitOr(f.Limit, 200))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.UserReward
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) MarkRewardPaid(ctx context.Context, id string, at time.Time, notes string) error {
	res := s.conn(ctx).Model(&models.UserReward{}).
		Where("id = ? AND status = ?", id, models.RewardPending).
		Updates(map[string]interface{}{"status": models.RewardPaid, "paid_at": at, "notes": notes})
	return updated(res)
}

// ===== pins =====

func (s *GormStore) CreatePin(ctx context.Context, p *models.Pin) error {
	return gormErr(s.conn(ctx).Create(p).Error)
}

func (s *GormStore) GetPin(ctx context.Context, code string) (*models.Pin, error) {
	var p models.Pin
	if err := s.first(ctx, &p, "code = ?", code); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) MarkPinUsed(ctx context.Context, code, userID string, at time.Time) error {
	res := s.conn(ctx).Model(&models.Pin{}).
		Where("code = ? AND status = ?", code, models.PinUnused).
		Updates(map[string]interface{}{"status": models.PinUsed, "used_by_user_id": userID, "used_at": at})
	return updated(res)
}

func (s *GormStore) ListPins(ctx context.Context, f PinFilter) ([]models.Pin, error) {
	q := s.conn(ctx).Order("created_at DESC").Limit(limitOr(f.Limit, 200))
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Pin
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) DeleteExpiredPins(ctx context.Context, before time.Time) (int64, error) {
	res := s.conn(ctx).Where("status = ? AND expires_at < ?", models.PinUnused, before).Delete(&models.Pin{})
	return res.RowsAffected, gormErr(res.Error)
}

// ===== payments =====

func (s *GormStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	return gormErr(s.conn(ctx).Create(p).Error)
}

func (s *GormStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := s.first(ctx, &p, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error) {
	q := s.conn(ctx).Order("created_at DESC").Limit(limitOr(f.Limit, 200))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Payment
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) ResolvePayment(ctx context.Context, id string, r Resolution) error {
	res := s.conn(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentSubmitted).
		Updates(map[string]interface{}{
			"status":      r.Status,
			"reviewed_by": r.ReviewedBy,
			"reviewed_at": r.ReviewedAt,
			"notes":       r.Notes,
			"pin_count":   r.PinCount,
		})
	return updated(res)
}

// ===== withdrawals =====

func (s *GormStore) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return gormErr(s.conn(ctx).Create(w).Error)
}

func (s *GormStore) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.first(ctx, &w, "id = ?", id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *GormStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]models.Withdrawal, error) {
	q := s.conn(ctx).Order("created_at DESC").Limit(limitOr(f.Limit, 200))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Withdrawal
	return out, gormErr(q.Find(&out).Error)
}

func (s *GormStore) ResolveWithdrawal(ctx context.Context, id string, r Resolution) error {
	res := s.conn(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalRequested).
		Updates(map[string]interface{}{
			"status":      r.Status,
			"reviewed_by": r.ReviewedBy,
			"reviewed_at": r.ReviewedAt,
			"notes":       r.Notes,
		})
	return updated(res)
}

// ===== events =====

func (s *GormStore) GetEvent(ctx context.Context, key string) (*models.Event, error) {
	var e models.Event
	if err := s.first(ctx, &e, "event_key = ?", key); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GormStore) CreateEvent(ctx context.Context, e *models.Event) error {
	return gormErr(s.conn(ctx).Create(e).Error)
}

// ===== push =====

func (s *GormStore) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	return gormErr(s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint", "p256dh", "auth", "created_at"}),
	}).Create(sub).Error)
}

func (s *GormStore) GetPushSubscription(ctx context.Context, userID string) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	if err := s.first(ctx, &sub, "user_id = ?", userID); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *GormStore) DeletePushSubscription(ctx context.Context, userID string) error {
	return gormErr(s.conn(ctx).Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error)
}
