package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"meme-composer/core"
)

const defaultDatabase = "memes"

type mongoStore struct {
	client *mongo.Client
	memes  *mongo.Collection
	users  *mongo.Collection
}

// NewStore connects to uri. An empty database name is taken from the URI
// path, falling back to "memes".
func NewStore(uri, database string) *mongoStore {
	if database == "" {
		database = databaseFromURI(uri)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("failed to ping mongo: %v", err)
	}

	db := client.Database(database)
	s := &mongoStore{client: client, memes: db.Collection("memes"), users: db.Collection("users")}

	_, err = s.memes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "account", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		logrus.WithError(err).Warn("Failed to create memes index")
	}
	logrus.WithField("database", database).Info("Connected to mongo")
	return s
}

// databaseFromURI extracts the path segment of a mongodb:// or
// mongodb+srv:// URI.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return defaultDatabase
	}
	name := rest[slash+1:]
	if q := strings.Index(name, "?"); q != -1 {
		name = name[:q]
	}
	if name == "" {
		return defaultDatabase
	}
	return name
}

// Close disconnects the client.
func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) ListMemes(ctx context.Context, account string) ([]*core.Meme, error) {
	log := logrus.WithField("account", account)
	cursor, err := s.memes.Find(ctx, bson.D{{Key: "account", Value: account}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		log.WithError(err).Error("Failed to list memes")
		return nil, err
	}
	memes := make([]*core.Meme, 0)
	if err := cursor.All(ctx, &memes); err != nil {
		return nil, err
	}
	log.Debugf("Listed %d memes", len(memes))
	return memes, nil
}

func (s *mongoStore) GetMeme(ctx context.Context, id string) (*core.Meme, error) {
	var m core.Meme
	err := s.memes.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			logrus.WithField("meme_id", id).Warn("Meme with specified ID not found")
			return nil, fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

// SaveMeme upserts the record; creation time and counters are only written
// on insert.
func (s *mongoStore) SaveMeme(ctx context.Context, meme *core.Meme) error {
	if meme.ID == "" || meme.Account == "" {
		return fmt.Errorf("meme id and account are required")
	}
	now := time.Now().UTC()
	labels := meme.Labels
	if labels == nil {
		labels = []string{}
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "account", Value: meme.Account},
			{Key: "category", Value: meme.Category},
			{Key: "labels", Value: labels},
			{Key: "contentType", Value: meme.ContentType},
			{Key: "blobKey", Value: meme.BlobKey},
			{Key: "thumbnailKey", Value: meme.ThumbnailKey},
			{Key: "width", Value: meme.Width},
			{Key: "height", Value: meme.Height},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "createdAt", Value: now},
			{Key: "downloads", Value: int64(0)},
			{Key: "shares", Value: int64(0)},
		}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved core.Meme
	err := s.memes.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: meme.ID}}, update, opts).Decode(&saved)
	if err != nil {
		logrus.WithError(err).WithField("meme_id", meme.ID).Error("Failed to save meme")
		return err
	}
	meme.CreatedAt, meme.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	meme.Downloads, meme.Shares = saved.Downloads, saved.Shares
	logrus.WithFields(logrus.Fields{"account": meme.Account, "meme_id": meme.ID}).Info("Meme saved successfully")
	return nil
}

func (s *mongoStore) DeleteMeme(ctx context.Context, account, id string) error {
	res, err := s.memes.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "account", Value: account}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	logrus.WithFields(logrus.Fields{"account": account, "meme_id": id}).Info("Meme deleted successfully")
	return nil
}

func (s *mongoStore) Increment(ctx context.Context, id string, kind core.EventKind) error {
	var field string
	switch kind {
	case core.EventDownload:
		field = "downloads"
	case core.EventShare:
		field = "shares"
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	res, err := s.memes.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: field, Value: int64(1)}}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *mongoStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject is required")
	}
	now := time.Now().UTC()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "provider", Value: user.Provider},
			{Key: "login", Value: user.Login},
			{Key: "email", Value: user.Email},
			{Key: "avatarUrl", Value: user.AvatarURL},
			{Key: "name", Value: user.Name},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved core.User
	if err := s.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: user.Subject}}, update, opts).Decode(&saved); err != nil {
		logrus.WithError(err).WithField("subject", user.Subject).Error("Failed to upsert user")
		return err
	}
	user.CreatedAt, user.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	return nil
}

func (s *mongoStore) GetUser(ctx context.Context, subject string) (*core.User, error) {
	var u core.User
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: subject}}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", subject, core.ErrNotFound)
		}
		return nil, err
	}
	return &u, nil
}
