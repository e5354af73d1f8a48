package registry

import (
	"context"
	"time"

	"github.com/overlab/overlab/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Repository using a Mongo collection keyed by username.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates a new repository for the given collection
func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Upsert(ctx context.Context, b *models.Binding) (*models.Binding, error) {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	filter := bson.M{"username": b.Username}
	repl := bson.M{"$set": bson.M{
		"apiCredential":   b.APICredential,
		"ownerId":         b.OwnerID,
		"displayName":     b.DisplayName,
		"status":          b.Status,
		"createdAt":       b.CreatedAt,
		"updatedAt":       b.UpdatedAt,
		"lastValidatedAt": b.LastValidatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.Binding
	if err := r.col.FindOneAndUpdate(ctx, filter, repl, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			// Shouldn't happen because of upsert, but handle gracefully
			return b, nil
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoRepository) Get(ctx context.Context, username string) (*models.Binding, error) {
	var b models.Binding
	if err := r.col.FindOne(ctx, bson.M{"username": username}).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]*models.Binding, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"username": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Binding
	for cur.Next(ctx) {
		var b models.Binding
		if err := cur.Decode(&b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, cur.Err()
}

func (r *MongoRepository) UpdateStatus(ctx context.Context, username string, from, to models.BindingStatus) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"username": username, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoRepository) UpdateCredentials(ctx context.Context, username, apiCredential, ownerID string, validatedAt time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{
			"apiCredential":   apiCredential,
			"ownerId":         ownerID,
			"lastValidatedAt": validatedAt,
			"updatedAt":       time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, username string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"username": username})
	return err
}
