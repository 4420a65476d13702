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
)

const (
	participantsCollection = "participants"
	messagesCollection     = "messages"
)

type participantDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`
	LastStatus int64              `bson:"lastStatus"`
}

type messageDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	From string             `bson:"from"`
	To   string             `bson:"to"`
	Text string             `bson:"text"`
	Type string             `bson:"type"`
	Time string             `bson:"time"`
}

func (d messageDoc) message() Message {
	return Message{
		ID:   d.ID.Hex(),
		From: d.From,
		To:   d.To,
		Text: d.Text,
		Type: MessageType(d.Type),
		Time: d.Time,
	}
}

// MongoStore keeps participants and messages as documents in two
// collections. Message order is the collection's natural order.
type MongoStore struct {
	client       *mongo.Client
	participants *mongo.Collection
	messages     *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// OpenMongo connects, pings and ensures the indexes the store relies on,
// including the unique index that backs participant name uniqueness.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongoStore(client, database)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:       client,
		participants: db.Collection(participantsCollection),
		messages:     db.Collection(messagesCollection),
	}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.participants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lastStatus", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure participant indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "from", Value: 1}}})
	if err != nil {
		return fmt.Errorf("ensure message indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertParticipant(ctx context.Context, p Participant) error {
	_, err := s.participants.InsertOne(ctx, participantDoc{Name: p.Name, LastStatus: p.LastStatus})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert participant %q: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *MongoStore) FindParticipant(ctx context.Context, name string) (Participant, error) {
	var doc participantDoc
	err := s.participants.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("find participant: %w", err)
	}
	return Participant{Name: doc.Name, LastStatus: doc.LastStatus}, nil
}

func (s *MongoStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	return s.findParticipants(ctx, bson.M{})
}

func (s *MongoStore) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	res, err := s.participants.UpdateOne(ctx, bson.M{"name": name}, bson.M{"$set": bson.M{"lastStatus": lastStatus}})
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) StaleParticipants(ctx context.Context, cutoff int64) ([]Participant, error) {
	return s.findParticipants(ctx, bson.M{"lastStatus": bson.M{"$lte": cutoff}})
}

func (s *MongoStore) DeleteStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	res, err := s.participants.DeleteOne(ctx, bson.M{"name": name, "lastStatus": bson.M{"$lte": cutoff}})
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) findParticipants(ctx context.Context, filter bson.M) ([]Participant, error) {
	cursor, err := s.participants.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	var docs []participantDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	items := make([]Participant, 0, len(docs))
	for _, doc := range docs {
		items = append(items, Participant{Name: doc.Name, LastStatus: doc.LastStatus})
	}
	return items, nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m Message) (string, error) {
	res, err := s.messages.InsertOne(ctx, messageDoc{
		From: m.From,
		To:   m.To,
		Text: m.Text,
		Type: string(m.Type),
		Time: m.Time,
	})
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert message: unexpected id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Message{}, ErrNotFound
	}
	var doc messageDoc
	err = s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return doc.message(), nil
}

func (s *MongoStore) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	opts := options.Find()
	if q.Last > 0 {
		opts.SetSort(bson.D{{Key: "$natural", Value: -1}}).SetLimit(int64(q.Last))
	}
	cursor, err := s.messages.Find(ctx, visibilityFilter(q.VisibleTo), opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	items := make([]Message, len(docs))
	for i, doc := range docs {
		if q.Last > 0 {
			items[len(docs)-1-i] = doc.message()
		} else {
			items[i] = doc.message()
		}
	}
	return items, nil
}

// visibilityFilter is the query form of Message.VisibleTo.
func visibilityFilter(requester string) bson.M {
	private := bson.A{bson.M{"to": Broadcast}}
	if requester != "" {
		private = append(private, bson.M{"to": requester}, bson.M{"from": requester})
	}
	return bson.M{"$or": bson.A{
		bson.M{"type": string(MessageTypePublic)},
		bson.M{"type": string(MessageTypePrivate), "$or": private},
		bson.M{"type": string(MessageTypeStatus), "to": Broadcast},
	}}
}

func (s *MongoStore) HasAuthored(ctx context.Context, name string) (bool, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{"from": name}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check author: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) UpdateMessage(ctx context.Context, id string, patch MessagePatch) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	set := bson.M{}
	if patch.To != nil {
		set["to"] = *patch.To
	}
	if patch.Text != nil {
		set["text"] = *patch.Text
	}
	if patch.Type != nil {
		set["type"] = string(*patch.Type)
	}
	if len(set) == 0 {
		_, err := s.GetMessage(ctx, id)
		return err
	}
	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
