package identity

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	profilesCollection  = "profiles"
	usernamesCollection = "usernames"

	// MongoDB "Unauthorized" server error code, raised when the deployment's
	// access rules reject the operation.
	codeUnauthorized = 13
)

// MongoStore implements Store on MongoDB. Profiles are keyed by principal id
// and index entries by canonical username; because the entry's _id IS the
// username, inserting one is a natural create-if-absent — a duplicate key
// error means another principal holds the reservation. All multi-document
// mutations run inside a session transaction so readers never observe a
// profile without its entry or an entry without its profile.
type MongoStore struct {
	client    *mongo.Client
	profiles  *mongo.Collection
	usernames *mongo.Collection
}

// NewMongoStore wraps an already-connected client and database.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:    client,
		profiles:  db.Collection(profilesCollection),
		usernames: db.Collection(usernamesCollection),
	}
}

// EnsureIndexes creates the secondary indexes the adapter queries rely on.
// The uniqueness index itself needs nothing: entries are keyed by _id.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.usernames.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "principal_id", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = m.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}},
	})
	return err
}

func (m *MongoStore) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	var p Profile
	err := m.profiles.FindOne(ctx, bson.M{"_id": principalID}).Decode(&p)
	if err != nil {
		return nil, mapMongoError("get", err)
	}
	return &p, nil
}

func (m *MongoStore) LookupUsername(ctx context.Context, canonical string) (*IndexEntry, error) {
	var e IndexEntry
	err := m.usernames.FindOne(ctx, bson.M{"_id": canonical}).Decode(&e)
	if err != nil {
		return nil, mapMongoError("lookup", err)
	}
	return &e, nil
}

func (m *MongoStore) CreateProfile(ctx context.Context, p *Profile) error {
	entry := IndexEntry{
		Username:    p.Username,
		PrincipalID: p.PrincipalID,
		CreatedAt:   p.CreatedAt,
	}

	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		// Reserve the username first; a duplicate key here aborts the
		// transaction before the profile is ever written.
		if _, err := m.usernames.InsertOne(sc, entry); err != nil {
			return err
		}
		_, err := m.profiles.InsertOne(sc, p)
		return err
	})
	return mapMongoWriteError("create", err)
}

func (m *MongoStore) RenameUsername(ctx context.Context, principalID, oldCanonical, newCanonical, newDisplay string) error {
	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		// Create-if-absent on the new name: the second of two racing
		// renames hits the duplicate _id and the whole transaction aborts.
		entry := IndexEntry{
			Username:    newCanonical,
			PrincipalID: principalID,
			CreatedAt:   time.Now().UTC(),
		}
		if _, err := m.usernames.InsertOne(sc, entry); err != nil {
			return err
		}

		if _, err := m.usernames.DeleteOne(sc, bson.M{"_id": oldCanonical, "principal_id": principalID}); err != nil {
			return err
		}

		res, err := m.profiles.UpdateOne(sc, bson.M{"_id": principalID}, bson.M{
			"$set": bson.M{
				"username":         newCanonical,
				"display_username": newDisplay,
			},
			"$currentDate": bson.M{"updated_at": true},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return mongo.ErrNoDocuments
		}
		return nil
	})
	return mapMongoWriteError("rename", err)
}

func (m *MongoStore) UpdateProfile(ctx context.Context, principalID string, patch ProfilePatch) error {
	set := bson.M{}
	setField := func(key string, v *string) {
		if v != nil {
			set[key] = *v
		}
	}
	setField("display_name", patch.DisplayName)
	setField("first_name", patch.FirstName)
	setField("last_name", patch.LastName)
	setField("bio", patch.Bio)
	setField("home_course_id", patch.HomeCourseID)
	setField("home_course_name", patch.HomeCourseName)
	setField("avatar_url", patch.AvatarURL)

	unset := bson.M{}
	for _, f := range patch.Clear {
		switch f {
		case FieldBio:
			unset["bio"] = ""
		case FieldHomeCourse:
			unset["home_course_id"] = ""
			unset["home_course_name"] = ""
		case FieldAvatarURL:
			unset["avatar_url"] = ""
		}
	}

	update := bson.M{"$currentDate": bson.M{"updated_at": true}}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := m.profiles.UpdateOne(ctx, bson.M{"_id": principalID}, update)
	if err != nil {
		return mapMongoWriteError("update", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) DeleteProfile(ctx context.Context, principalID, canonical string) error {
	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := m.profiles.DeleteOne(sc, bson.M{"_id": principalID})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return mongo.ErrNoDocuments
		}
		_, err = m.usernames.DeleteOne(sc, bson.M{"_id": canonical, "principal_id": principalID})
		return err
	})
	return mapMongoWriteError("delete", err)
}

func (m *MongoStore) SearchByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]Profile, error) {
	filter := bson.M{"_id": bson.M{
		"$gte": prefix,
		"$lt":  prefix + "\uffff",
	}}
	opts := options.Find().SetSort(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := m.usernames.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapMongoError("search", err)
	}
	defer cur.Close(ctx)

	var entries []IndexEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, mapMongoError("search", err)
	}

	var out []Profile
	for _, e := range entries {
		p, err := m.GetProfile(ctx, e.PrincipalID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *MongoStore) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func mapMongoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if isUnauthorized(err) {
		return ErrPermissionDenied
	}
	return &StoreError{Op: op, Err: err}
}

func mapMongoWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrUsernameTaken
	}
	return mapMongoError(op, err)
}

func isUnauthorized(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeUnauthorized {
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == codeUnauthorized {
				return true
			}
		}
	}
	return false
}
