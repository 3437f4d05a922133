package store

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"PShop/data/database"
	"PShop/module/user/model"
	"PShop/tools/errs"
)

// UserStore 用户目录（只读为主，网关 join 时补全 name/role）
type UserStore struct {
	db database.DBGetter
}

func NewUserStore(db database.DBGetter) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetTableName() string { return model.UserTableName }

func (s *UserStore) Collection() (*mongo.Collection, error) {
	return database.Collection(s.db, model.UserTableName)
}

func (s *UserStore) Lookup(ctx context.Context, userID string) (*model.User, error) {
	coll, err := s.Collection()
	if err != nil {
		return nil, err
	}
	var u model.User
	err = coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "id", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "id", userID)
	}
	return &u, nil
}

// Upsert writes the profile; used by seeding and admin tooling.
func (s *UserStore) Upsert(ctx context.Context, u *model.User) error {
	if err := validate(u); err != nil {
		return err
	}
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"_id": u.UserID},
		bson.M{"$set": bson.M{"name": u.Name, "role": u.Role}},
		options.Update().SetUpsert(true))
	return errs.WrapMsg(err, "upsert user", "id", u.UserID)
}

func validate(u *model.User) error {
	if u == nil || strings.TrimSpace(u.UserID) == "" {
		return errs.ErrInvalidPayload.WrapMsg("user id is required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return errs.ErrInvalidPayload.WrapMsg("user name is required", "id", u.UserID)
	}
	if !model.ValidRole(u.Role) {
		return errs.ErrInvalidPayload.WrapMsg("unknown role", "role", u.Role)
	}
	return nil
}
