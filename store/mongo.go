package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sknet/database"
	"sknet/models"
)

var _ Store = (*MongoStore)(nil)

// MongoStore implements Store on a MongoDB replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName)}
}

func (s *MongoStore) NewID() string {
	return primitive.NewObjectID().Hex()
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(context.Context) error {
	return database.DisconnectMongo(s.client)
}

func mongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	}
	return err
}

func (s *MongoStore) findOne(ctx context.Context, coll string, filter bson.M, dst interface{}) error {
	return mongoErr(s.coll(coll).FindOne(ctx, filter).Decode(dst))
}

func (s *MongoStore) insert(ctx context.Context, coll string, doc interface{}) error {
	_, err := s.coll(coll).InsertOne(ctx, doc)
	return mongoErr(err)
}

// updateOne applies update to the document matching filter. missing is
// returned when nothing matched.
func (s *MongoStore) updateOne(ctx context.Context, coll string, filter, update bson.M, missing error) error {
	res, err := s.coll(coll).UpdateOne(ctx, filter, update)
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return missing
	}
	return nil
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cur, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newest(limit int) *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
}

func withStatus(filter bson.M, field, value string) bson.M {
	if value != "" {
		filter[field] = value
	}
	return filter
}

// ===== members =====

func (s *MongoStore) CountMembers(ctx context.Context) (int64, error) {
	n, err := s.coll(database.MembersColl).CountDocuments(ctx, bson.M{})
	return n, mongoErr(err)
}

func (s *MongoStore) CreateMember(ctx context.Context, m *models.Member) error {
	return s.insert(ctx, database.MembersColl, m)
}

func (s *MongoStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := s.findOne(ctx, database.MembersColl, bson.M{"_id": id}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoStore) FindMemberByLogin(ctx context.Context, login string) (*models.Member, error) {
	var m models.Member
	filter := bson.M{"$or": bson.A{bson.M{"email": login}, bson.M{"username": login}}}
	if err := s.findOne(ctx, database.MembersColl, filter, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoStore) GetMembers(ctx context.Context, ids []string) ([]models.Member, error) {
	if len(ids) == 0 {
		return []models.Member{}, nil
	}
	out, err := findAll[models.Member](ctx, s.coll(database.MembersColl), bson.M{"_id": bson.M{"$in": ids}})
	return out, mongoErr(err)
}

func (s *MongoStore) ListMembers(ctx context.Context, f MemberFilter) ([]models.Member, error) {
	opts := newest(limitOr(f.Limit, 100)).SetSkip(int64(f.Offset))
	filter := withStatus(bson.M{}, "status", string(f.Status))
	out, err := findAll[models.Member](ctx, s.coll(database.MembersColl), filter, opts)
	return out, mongoErr(err)
}

func (s *MongoStore) UpdateMemberStatus(ctx context.Context, id string, status models.MemberStatus) error {
	return s.updateOne(ctx, database.MembersColl, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}}, ErrNotFound)
}

func (s *MongoStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.updateOne(ctx, database.MembersColl, bson.M{"_id": id},
		bson.M{"$set": bson.M{"passwordHash": hash}}, ErrNotFound)
}

func (s *MongoStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateOne(ctx, database.MembersColl, bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastLoginAt": at}}, ErrNotFound)
}

// ===== tree =====

func (s *MongoStore) CreateTreeNode(ctx context.Context, n *models.TreeNode) error {
	if n.Ancestors == nil {
		n.Ancestors = []string{}
	}
	return s.insert(ctx, database.TreeNodesColl, n)
}

func (s *MongoStore) GetTreeNode(ctx context.Context, userID string) (*models.TreeNode, error) {
	var n models.TreeNode
	if err := s.findOne(ctx, database.TreeNodesColl, bson.M{"_id": userID}, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *MongoStore) GetTreeNodes(ctx context.Context, userIDs []string) ([]models.TreeNode, error) {
	if len(userIDs) == 0 {
		return []models.TreeNode{}, nil
	}
	out, err := findAll[models.TreeNode](ctx, s.coll(database.TreeNodesColl), bson.M{"_id": bson.M{"$in": userIDs}})
	return out, mongoErr(err)
}

func (s *MongoStore) ClaimLeg(ctx context.Context, parentID string, leg models.Leg, childID string) error {
	field := "rightChildId"
	if leg == models.LegLeft {
		field = "leftChildId"
	}
	err := s.updateOne(ctx, database.TreeNodesColl,
		bson.M{"_id": parentID, field: ""},
		bson.M{"$set": bson.M{field: childID}}, ErrConflict)
	if err != ErrConflict {
		return err
	}
	if _, getErr := s.GetTreeNode(ctx, parentID); getErr != nil {
		return getErr
	}
	return ErrConflict
}

// ===== stats =====

func (s *MongoStore) CreateStats(ctx context.Context, st *models.UserStats) error {
	return s.insert(ctx, database.StatsColl, st)
}

func (s *MongoStore) GetStats(ctx context.Context, userID string) (*models.UserStats, error) {
	var st models.UserStats
	if err := s.findOne(ctx, database.StatsColl, bson.M{"_id": userID}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MongoStore) ListStats(ctx context.Context, userIDs []string) ([]models.UserStats, error) {
	if len(userIDs) == 0 {
		return []models.UserStats{}, nil
	}
	out, err := findAll[models.UserStats](ctx, s.coll(database.StatsColl), bson.M{"_id": bson.M{"$in": userIDs}})
	return out, mongoErr(err)
}

func (s *MongoStore) IncrementLegCounts(ctx context.Context, left, right []string, at time.Time) error {
	var writes []mongo.WriteModel
	if len(left) > 0 {
		writes = append(writes, mongo.NewUpdateManyModel().
			SetFilter(bson.M{"_id": bson.M{"$in": left}}).
			SetUpdate(bson.M{"$inc": bson.M{"leftCount": 1, "totalCount": 1}, "$set": bson.M{"lastUpdated": at}}))
	}
	if len(right) > 0 {
		writes = append(writes, mongo.NewUpdateManyModel().
			SetFilter(bson.M{"_id": bson.M{"$in": right}}).
			SetUpdate(bson.M{"$inc": bson.M{"rightCount": 1, "totalCount": 1}, "$set": bson.M{"lastUpdated": at}}))
	}
	if len(writes) == 0 {
		return nil
	}
	res, err := s.coll(database.StatsColl).BulkWrite(ctx, writes)
	if err != nil {
		return mongoErr(err)
	}
	if want := int64(len(left) + len(right)); res.MatchedCount != want {
		return fmt.Errorf("%w: matched %d of %d stats documents", ErrNotFound, res.MatchedCount, want)
	}
	return nil
}

func (s *MongoStore) IncrementDirect(ctx context.Context, userID string, at time.Time) error {
	return s.updateOne(ctx, database.StatsColl, bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"directCount": 1}, "$set": bson.M{"lastUpdated": at}}, ErrNotFound)
}

func (s *MongoStore) RaiseRank(ctx context.Context, userID, rank string, order int, at time.Time) (bool, error) {
	res, err := s.coll(database.StatsColl).UpdateOne(ctx,
		bson.M{"_id": userID, "rankOrder": bson.M{"$lt": order}},
		bson.M{"$set": bson.M{"currentRank": rank, "highestRank": rank, "rankOrder": order, "lastUpdated": at}})
	if err != nil {
		return false, mongoErr(err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) CreditEarnings(ctx context.Context, userID string, amount int64, at time.Time) error {
	return s.updateOne(ctx, database.StatsColl, bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"totalEarnings": amount}, "$set": bson.M{"lastUpdated": at}}, ErrNotFound)
}

func (s *MongoStore) ReserveWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error {
	filter := bson.M{
		"_id":   userID,
		"$expr": bson.M{"$gte": bson.A{bson.M{"$subtract": bson.A{"$totalEarnings", "$withdrawn"}}, amount}},
	}
	return s.updateOne(ctx, database.StatsColl, filter,
		bson.M{"$inc": bson.M{"withdrawn": amount}, "$set": bson.M{"lastUpdated": at}}, ErrConflict)
}

func (s *MongoStore) ReleaseWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error {
	return s.updateOne(ctx, database.StatsColl, bson.M{"_id": userID, "withdrawn": bson.M{"$gte": amount}},
		bson.M{"$inc": bson.M{"withdrawn": -amount}, "$set": bson.M{"lastUpdated": at}}, ErrConflict)
}

// ===== rewards =====

func (s *MongoStore) ListRewardTiers(ctx context.Context, activeOnly bool) ([]models.RewardTier, error) {
	filter := bson.M{}
	if activeOnly {
		filter["isActive"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	out, err := findAll[models.RewardTier](ctx, s.coll(database.RewardTiersColl), filter, opts)
	return out, mongoErr(err)
}

func (s *MongoStore) UpsertRewardTier(ctx context.Context, t *models.RewardTier) error {
	_, err := s.coll(database.RewardTiersColl).ReplaceOne(ctx, bson.M{"_id": t.Order}, t, options.Replace().SetUpsert(true))
	return mongoErr(err)
}

func (s *MongoStore) CreateUserReward(ctx context.Context, r *models.UserReward) error {
	return s.insert(ctx, database.UserRewardsColl, r)
}

func (s *MongoStore) GetUserReward(ctx context.Context, id string) (*models.UserReward, error) {
	var r models.UserReward
	if err := s.findOne(ctx, database.UserRewardsColl, bson.M{"_id": id}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) ListUserRewards(ctx context.Context, f RewardFilter) ([]models.UserReward, error) {
	filter := withStatus(bson.M{}, "status", string(f.Status))
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	opts := options.Find().SetSort(bson.D{{Key: "awardedAt", Value: -1}}).SetLimit(int64(limitOr(f.Limit, 200)))
	out, err := findAll[models.UserReward](ctx, s.coll(database.UserRewardsColl), filter, opts)
	return out, mongoErr(err)
}

func (s *MongoStore) MarkRewardPaid(ctx context.Context, id string, at time.Time, notes string) error {
	return s.updateOne(ctx, database.UserRewardsColl,
		bson.M{"_id": id, "status": models.RewardPending},
		bson.M{"$set": bson.M{"status": models.RewardPaid, "paidAt": at, "notes": notes}}, ErrConflict)
}

// ===== pins =====

func (s *MongoStore) CreatePin(ctx context.Context, p *models.Pin) error {
	return s.insert(ctx, database.PinsColl, p)
}

func (s *MongoStore) GetPin(ctx context.Context, code string) (*models.Pin, error) {
	var p models.Pin
	if err := s.findOne(ctx, database.PinsColl, bson.M{"_id": code}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MongoStore) MarkPinUsed(ctx context.Context, code, userID string, at time.Time) error {
	return s.updateOne(ctx, database.PinsColl,
		bson.M{"_id": code, "status": models.PinUnused},
		bson.M{"$set": bson.M{"status": models.PinUsed, "usedByUserId": userID, "usedAt": at}}, ErrConflict)
}

func (s *MongoStore) ListPins(ctx context.Context, f PinFilter) ([]models.Pin, error) {
	filter := withStatus(bson.M{}, "status", string(f.Status))
	if f.CreatedBy != "" {
		filter["createdBy"] = f.CreatedBy
	}
	out, err := findAll[models.Pin](ctx, s.coll(database.PinsColl), filter, newest(limitOr(f.Limit, 200)))
	return out, mongoErr(err)
}

func (s *MongoStore) DeleteExpiredPins(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.coll(database.PinsColl).DeleteMany(ctx, bson.M{
		"status":    models.PinUnused,
		"expiresAt": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, mongoErr(err)
	}
	return res.DeletedCount, nil
}

// ===== payments =====

func (s *MongoStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	return s.insert(ctx, database.PaymentsColl, p)
}

func (s *MongoStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := s.findOne(ctx, database.PaymentsColl, bson.M{"_id": id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MongoStore) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error) {
	filter := withStatus(bson.M{}, "status", string(f.Status))
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	out, err := findAll[models.Payment](ctx, s.coll(database.PaymentsColl), filter, newest(limitOr(f.Limit, 200)))
	return out, mongoErr(err)
}

func (s *MongoStore) ResolvePayment(ctx context.Context, id string, r Resolution) error {
	return s.updateOne(ctx, database.PaymentsColl,
		bson.M{"_id": id, "status": models.PaymentSubmitted},
		bson.M{"$set": bson.M{
			"status":     r.Status,
			"reviewedBy": r.ReviewedBy,
			"reviewedAt": r.ReviewedAt,
			"notes":      r.Notes,
			"pinCount":   r.PinCount,
		}}, ErrConflict)
}

// ===== withdrawals =====

func (s *MongoStore) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return s.insert(ctx, database.WithdrawalsColl, w)
}

func (s *MongoStore) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.findOne(ctx, database.WithdrawalsColl, bson.M{"_id": id}, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *MongoStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]models.Withdrawal, error) {
	filter := withStatus(bson.M{}, "status", string(f.Status))
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	out, err := findAll[models.Withdrawal](ctx, s.coll(database.WithdrawalsColl), filter, newest(limitOr(f.Limit, 200)))
	return out, mongoErr(err)
}

func (s *MongoStore) ResolveWithdrawal(ctx context.Context, id string, r Resolution) error {
	return s.updateOne(ctx, database.WithdrawalsColl,
		bson.M{"_id": id, "status": models.WithdrawalRequested},
		bson.M{"$set": bson.M{
			"status":     r.Status,
			"reviewedBy": r.ReviewedBy,
			"reviewedAt": r.ReviewedAt,
			"notes":      r.Notes,
		}}, ErrConflict)
}

// ===== events =====

func (s *MongoStore) GetEvent(ctx context.Context, key string) (*models.Event, error) {
	var e models.Event
	if err := s.findOne(ctx, database.EventsColl, bson.M{"_id": key}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MongoStore) CreateEvent(ctx context.Context, e *models.Event) error {
	return s.insert(ctx, database.EventsColl, e)
}

// ===== push =====

func (s *MongoStore) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	_, err := s.coll(database.PushSubsColl).ReplaceOne(ctx, bson.M{"_id": sub.UserID}, sub, options.Replace().SetUpsert(true))
	return mongoErr(err)
}

func (s *MongoStore) GetPushSubscription(ctx context.Context, userID string) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	if err := s.findOne(ctx, database.PushSubsColl, bson.M{"_id": userID}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) DeletePushSubscription(ctx context.Context, userID string) error {
	_, err := s.coll(database.PushSubsColl).DeleteOne(ctx, bson.M{"_id": userID})
	return mongoErr(err)
}
