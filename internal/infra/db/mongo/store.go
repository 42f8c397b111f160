package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatter/internal/domain/chat"
	"chatter/internal/domain/user"
)

// Store persists the chat model in mongo. Ids come from counter documents so
// messages get a monotonically increasing int64 that doubles as the ordering
// and pagination key.
type Store struct {
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	receipts      *mongo.Collection
	counters      *mongo.Collection
}

// NewStore builds the store and ensures its indexes.
func NewStore(db *mongo.Database) *Store {
	s := &Store{
		users:         db.Collection("users"),
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		receipts:      db.Collection("message_reads"),
		counters:      db.Collection("counters"),
	}
	ctx := context.Background()
	_, _ = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "members.user_id", Value: 1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	_, _ = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	_, _ = s.receipts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return s
}

func (s *Store) nextID(ctx context.Context, sequence string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": sequence},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	id, err := s.nextID(ctx, "users")
	if err != nil {
		return err
	}
	u.ID = id
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.Validation("email already registered")
		}
		return err
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*user.User, error) {
	var u user.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	var u user.User
	err := s.users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]user.User, error) {
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var out []user.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListUsersAfter(ctx context.Context, afterID int64, limit int) ([]user.User, error) {
	filter := bson.M{}
	if afterID > 0 {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	cur, err := s.users.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var out []user.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *chat.Conversation) error {
	id, err := s.nextID(ctx, "conversations")
	if err != nil {
		return err
	}
	c.ID = id
	doc := bson.M{
		"_id":        c.ID,
		"kind":       c.Kind,
		"name":       c.Name,
		"avatar":     c.Avatar,
		"creator_id": c.CreatorID,
		"members":    c.Members,
		"created_at": c.CreatedAt,
	}
	if c.Kind == chat.KindPrivate && len(c.Members) == 2 {
		// Unique sparse index on pair_key enforces one thread per pair.
		doc["pair_key"] = chat.PairKey(c.Members[0].UserID, c.Members[1].UserID)
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.Validation("private conversation already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ConversationByID(ctx context.Context, id int64) (*chat.Conversation, error) {
	var c chat.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PrivateConversationByPair(ctx context.Context, a, b int64) (*chat.Conversation, error) {
	var c chat.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"pair_key": chat.PairKey(a, b)}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConversationsBefore(ctx context.Context, userID, beforeID int64, limit int) ([]chat.Conversation, error) {
	filter := bson.M{"members.user_id": userID}
	if beforeID > 0 {
		filter["_id"] = bson.M{"$lt": beforeID}
	}
	cur, err := s.conversations.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var out []chat.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AddMembers(ctx context.Context, conversationID int64, members []chat.Member) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$push": bson.M{"members": bson.M{"$each": members}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, conversationID, userID int64) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$pull": bson.M{"members": bson.M{"user_id": userID}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLastMessage(ctx context.Context, conversationID int64, last chat.LastMessage) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"last_message": last}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// messageDoc is the wire shape of a message: reactions are stored as rows so
// one user's row can be pulled without knowing which emoji they had.
type messageDoc struct {
	ID             int64            `bson:"_id"`
	ConversationID int64            `bson:"conversation_id"`
	SenderID       int64            `bson:"sender_id"`
	Body           string           `bson:"body,omitempty"`
	Kind           chat.MessageKind `bson:"kind"`
	Attachment     *chat.Attachment `bson:"attachment,omitempty"`
	ReplyToID      int64            `bson:"reply_to_id,omitempty"`
	ReadBy         []int64          `bson:"read_by,omitempty"`
	Reactions      []reactionRow    `bson:"reactions,omitempty"`
	CreatedAt      time.Time        `bson:"created_at"`
}

type reactionRow struct {
	UserID int64  `bson:"user_id"`
	Emoji  string `bson:"emoji"`
}

func (d messageDoc) toDomain() chat.Message {
	m := chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Body:           d.Body,
		Kind:           d.Kind,
		Attachment:     d.Attachment,
		ReplyToID:      d.ReplyToID,
		ReadBy:         d.ReadBy,
		CreatedAt:      d.CreatedAt,
	}
	if len(d.Reactions) > 0 {
		m.Reactions = make(map[string][]int64, len(d.Reactions))
		for _, r := range d.Reactions {
			m.Reactions[r.Emoji] = append(m.Reactions[r.Emoji], r.UserID)
		}
	}
	return m
}

func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	id, err := s.nextID(ctx, "messages")
	if err != nil {
		return err
	}
	m.ID = id
	doc := messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Kind:           m.Kind,
		Attachment:     m.Attachment,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
	}
	_, err = s.messages.InsertOne(ctx, doc)
	return err
}

func (s *Store) MessageByID(ctx context.Context, id int64) (*chat.Message, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := doc.toDomain()
	return &m, nil
}

func (s *Store) ListMessagesBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]chat.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if beforeID > 0 {
		filter["_id"] = bson.M{"$lt": beforeID}
	}
	cur, err := s.messages.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$nin": bson.A{viewerID, int64(0)}},
		"read_by":         bson.M{"$ne": viewerID},
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) UpsertReceipts(ctx context.Context, conversationID int64, messageIDs []int64, userID int64, at time.Time) error {
	models := make([]mongo.WriteModel, 0, len(messageIDs))
	for _, id := range messageIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"message_id": id, "user_id": userID}).
			SetUpdate(bson.M{
				"$set":         bson.M{"read_at": at},
				"$setOnInsert": bson.M{"message_id": id, "user_id": userID, "conversation_id": conversationID},
			}).
			SetUpsert(true))
	}
	if _, err := s.receipts.BulkWrite(ctx, models); err != nil {
		return err
	}
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	return err
}

func (s *Store) SetReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	// Replace, never stack: pull the user's existing row, then push the new one.
	if err := s.RemoveReaction(ctx, messageID, userID); err != nil {
		return err
	}
	_, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$push": bson.M{"reactions": reactionRow{UserID: userID, Emoji: emoji}}})
	return err
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID int64) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$pull": bson.M{"reactions": bson.M{"user_id": userID}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}
