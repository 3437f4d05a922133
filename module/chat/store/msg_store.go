package store

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"PShop/data/database"
	"PShop/module/chat/model"
	"PShop/tools/errs"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MsgStore 聊天历史（按 chatId 分页）
type MsgStore struct {
	db database.DBGetter
}

func NewMsgStore(db database.DBGetter) *MsgStore {
	return &MsgStore{db: db}
}

func (s *MsgStore) GetTableName() string { return model.MsgTableName }

func (s *MsgStore) Collection() (*mongo.Collection, error) {
	return database.Collection(s.db, model.MsgTableName)
}

func (s *MsgStore) sessions() (*mongo.Collection, error) {
	return database.Collection(s.db, model.SessionTableName)
}

// EnsureIndexes 建索引（幂等）
func (s *MsgStore) EnsureIndexes(ctx context.Context) error {
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	sess, err := s.sessions()
	if err != nil {
		return err
	}
	_, err = sess.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}},
	})
	return errs.WrapMsg(err, "create session indexes")
}

// Save inserts messages; ids already stored are skipped so redelivery is harmless.
func (s *MsgStore) Save(ctx context.Context, msgs ...*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	docs := make([]any, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, m)
	}
	_, err = coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return errs.WrapMsg(err, "insert messages", "count", len(msgs))
	}
	return s.touchSessions(ctx, msgs)
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !asBulk(err, &bwe) {
		return mongo.IsDuplicateKeyError(err)
	}
	if bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func asBulk(err error, out *mongo.BulkWriteException) bool {
	e, ok := err.(mongo.BulkWriteException)
	if ok {
		*out = e
	}
	return ok
}

// touchSessions keeps one session document per chat with its latest message.
func (s *MsgStore) touchSessions(ctx context.Context, msgs []*model.Message) error {
	sess, err := s.sessions()
	if err != nil {
		return err
	}
	latest := latestPerChat(msgs)
	writes := make([]mongo.WriteModel, 0, len(latest))
	for _, m := range latest {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": m.ChatID}).
			SetUpdate(sessionUpdate(m)).
			SetUpsert(true))
	}
	if _, err := sess.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return errs.WrapMsg(err, "upsert sessions")
	}
	return nil
}

func latestPerChat(msgs []*model.Message) []*model.Message {
	by := make(map[string]*model.Message)
	for _, m := range msgs {
		if cur, ok := by[m.ChatID]; !ok || m.Timestamp.After(cur.Timestamp) {
			by[m.ChatID] = m
		}
	}
	out := make([]*model.Message, 0, len(by))
	for _, m := range by {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func sessionUpdate(m *model.Message) bson.M {
	return bson.M{
		"$set": bson.M{
			"last_message_id": m.ID,
			"last_message_at": m.Timestamp,
		},
		"$addToSet":    bson.M{"participants": bson.M{"$each": []string{m.SenderID, m.RecipientID}}},
		"$setOnInsert": bson.M{"created_at": m.Timestamp},
	}
}

// ListQuery pages backwards from Before (zero means now).
type ListQuery struct {
	ChatID string
	Before time.Time
	Limit  int64
}

func (q ListQuery) filter() bson.M {
	f := bson.M{"chat_id": q.ChatID}
	if !q.Before.IsZero() {
		f["timestamp"] = bson.M{"$lt": q.Before}
	}
	return f
}

func (q ListQuery) limit() int64 {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	}
	return q.Limit
}

// List returns one page, oldest first.
func (s *MsgStore) List(ctx context.Context, q ListQuery) ([]*model.Message, error) {
	if q.ChatID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("chatId is required")
	}
	coll, err := s.Collection()
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(q.limit())
	cur, err := coll.Find(ctx, q.filter(), opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find messages", "chatId", q.ChatID)
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "chatId", q.ChatID)
	}
	// newest-first from mongo, flip for display
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SessionsOf lists a user's chat sessions, most recent first.
func (s *MsgStore) SessionsOf(ctx context.Context, userID string, limit int64) ([]*model.Session, error) {
	sess, err := s.sessions()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	cur, err := sess.Find(ctx, bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "find sessions", "user", userID)
	}
	var out []*model.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode sessions", "user", userID)
	}
	return out, nil
}
