package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/repository"
	"telegram-weather-bot/internal/infra/metrics"
)

var _ repository.UserRepository = (*MongoUserRepo)(nil)

type MongoUserRepo struct {
	coll *mongo.Collection
}

func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(UsersCollection)}
}

func normalize(u *model.User) *model.User {
	if u.CityHistory == nil {
		u.CityHistory = []string{}
	}
	return u
}

func (r *MongoUserRepo) FindByChatID(ctx context.Context, chatID string) (*model.User, error) {
	var u model.User
	err := r.coll.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		metrics.IncStoreError("find")
		return nil, fmt.Errorf("find user %s: %w", chatID, err)
	}
	return normalize(&u), nil
}

func (r *MongoUserRepo) Insert(ctx context.Context, u *model.User) error {
	doc := *u
	normalize(&doc)
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		metrics.IncStoreError("insert")
		return fmt.Errorf("insert user %s: %w", u.ChatID, err)
	}
	return nil
}

func (r *MongoUserRepo) UpdateFields(ctx context.Context, chatID string, upd repository.UserUpdate) error {
	if upd.Empty() {
		return domain.ErrInvalidArgument
	}
	set := bson.M{"updated_at": time.Now().UTC()}
	if upd.IsSubscribed != nil {
		set["is_subscribed"] = *upd.IsSubscribed
	}
	if upd.IsBlocked != nil {
		set["is_blocked"] = *upd.IsBlocked
	}
	if upd.CityHistory != nil {
		set["city_history"] = upd.CityHistory
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"chat_id": chatID}, bson.M{"$set": set})
	if err != nil {
		metrics.IncStoreError("update")
		return fmt.Errorf("update user %s: %w", chatID, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddCity relies on the filter to refuse duplicates and a full history, so
// the $push only lands when both conditions still hold at write time.
func (r *MongoUserRepo) AddCity(ctx context.Context, chatID, city string, limit int) (bool, error) {
	filter := bson.M{
		"chat_id":      chatID,
		"city_history": bson.M{"$ne": city},
	}
	if limit > 0 {
		filter["city_history."+strconv.Itoa(limit-1)] = bson.M{"$exists": false}
	}
	update := bson.M{
		"$push": bson.M{"city_history": city},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		metrics.IncStoreError("add_city")
		return false, fmt.Errorf("add city for %s: %w", chatID, err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"chat_id": chatID}, options.Count().SetLimit(1))
	if err != nil {
		metrics.IncStoreError("add_city")
		return false, fmt.Errorf("add city for %s: %w", chatID, err)
	}
	if n == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *MongoUserRepo) DeleteByChatID(ctx context.Context, chatID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		metrics.IncStoreError("delete")
		return fmt.Errorf("delete user %s: %w", chatID, err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoUserRepo) FindAllSubscribed(ctx context.Context) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "chat_id", Value: 1}})
	return r.find(ctx, "find_subscribed", bson.M{"is_subscribed": true}, opts)
}

func (r *MongoUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "chat_id", Value: 1}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, "list", bson.M{}, opts)
}

func (r *MongoUserRepo) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*model.User, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		metrics.IncStoreError(op)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var docs []*model.User
	if err := cur.All(ctx, &docs); err != nil {
		metrics.IncStoreError(op)
		return nil, fmt.Errorf("%s decode: %w", op, err)
	}
	out := make([]*model.User, 0, len(docs))
	for _, u := range docs {
		out = append(out, normalize(u))
	}
	return out, nil
}

func (r *MongoUserRepo) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, bson.M{})
}

func (r *MongoUserRepo) CountSubscribed(ctx context.Context) (int, error) {
	return r.count(ctx, bson.M{"is_subscribed": true})
}

func (r *MongoUserRepo) CountBlocked(ctx context.Context) (int, error) {
	return r.count(ctx, bson.M{"is_blocked": true})
}

func (r *MongoUserRepo) count(ctx context.Context, filter bson.M) (int, error) {
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		metrics.IncStoreError("count")
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}
