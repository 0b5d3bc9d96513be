package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store persists domain rows in MongoDB. Ids handed back to the fan-out
// layer are ObjectID hex strings.
type Store struct {
	messages      *mongo.Collection
	comments      *mongo.Collection
	reactions     *mongo.Collection
	streams       *mongo.Collection
	viewers       *mongo.Collection
	notifications *mongo.Collection
	preferences   *mongo.Collection
}

func NewStore(client *mongo.Client) *Store {
	database := client.Database("chattingus")

	return &Store{
		messages:      database.Collection("messages"),
		comments:      database.Collection("live_comments"),
		reactions:     database.Collection("live_reactions"),
		streams:       database.Collection("streams"),
		viewers:       database.Collection("live_viewers"),
		notifications: database.Collection("notifications"),
		preferences:   database.Collection("notification_preferences"),
	}
}

func (s *Store) Setup(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "roomId", Value: 1},
			{Key: "_id", Value: -1},
		},
	})
	if err != nil {
		return err
	}

	_, err = s.viewers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "streamId", Value: 1},
			{Key: "userId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipientId", Value: 1},
			{Key: "isRead", Value: 1},
			{Key: "createdAt", Value: -1},
		},
	})

	return err
}

func (s *Store) CreateMessage(ctx context.Context, roomID, senderID, content, messageType string) (store.Message, error) {
	createdAt := time.Now()

	result, err := s.messages.InsertOne(ctx, bson.D{
		{Key: "roomId", Value: roomID},
		{Key: "senderId", Value: senderID},
		{Key: "content", Value: content},
		{Key: "messageType", Value: messageType},
		{Key: "isRead", Value: false},
		{Key: "createdAt", Value: createdAt},
	})
	if err != nil {
		return store.Message{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Message{
		ID:          result.InsertedID.(bson.ObjectID).Hex(),
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   createdAt,
	}, nil
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string) error {
	objectID, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return ierr.New(ierr.ErrorCodeNotFound, errors.New("unknown message id"))
	}

	_, err = s.messages.UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return nil
}

func (s *Store) CreateComment(ctx context.Context, streamID, userID, text string) (store.Comment, error) {
	createdAt := time.Now()

	result, err := s.comments.InsertOne(ctx, bson.D{
		{Key: "streamId", Value: streamID},
		{Key: "userId", Value: userID},
		{Key: "text", Value: text},
		{Key: "createdAt", Value: createdAt},
	})
	if err != nil {
		return store.Comment{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Comment{
		ID:        result.InsertedID.(bson.ObjectID).Hex(),
		StreamID:  streamID,
		UserID:    userID,
		Text:      text,
		CreatedAt: createdAt,
	}, nil
}

func (s *Store) CreateReaction(ctx context.Context, streamID, userID, reactionType string) (store.Reaction, error) {
	createdAt := time.Now()

	result, err := s.reactions.InsertOne(ctx, bson.D{
		{Key: "streamId", Value: streamID},
		{Key: "userId", Value: userID},
		{Key: "reactionType", Value: reactionType},
		{Key: "createdAt", Value: createdAt},
	})
	if err != nil {
		return store.Reaction{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Reaction{
		ID:           result.InsertedID.(bson.ObjectID).Hex(),
		StreamID:     streamID,
		UserID:       userID,
		ReactionType: reactionType,
		CreatedAt:    createdAt,
	}, nil
}

type streamDocument struct {
	ID         bson.ObjectID `bson:"_id"`
	StreamerID string        `bson:"streamerId"`
	Status     string        `bson:"status"`
	CreatedAt  time.Time     `bson:"createdAt"`
}

func (s *Store) GetStream(ctx context.Context, streamID string) (store.Stream, error) {
	objectID, err := bson.ObjectIDFromHex(streamID)
	if err != nil {
		return store.Stream{}, ierr.New(ierr.ErrorCodeNotFound, errors.New("unknown stream id"))
	}

	var doc streamDocument
	err = s.streams.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Stream{}, ierr.New(ierr.ErrorCodeNotFound, errors.New("stream not found"))
	}
	if err != nil {
		return store.Stream{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Stream{
		ID:         doc.ID.Hex(),
		StreamerID: doc.StreamerID,
		Status:     doc.Status,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

type viewerDocument struct {
	ID       bson.ObjectID `bson:"_id"`
	StreamID string        `bson:"streamId"`
	UserID   string        `bson:"userId"`
	JoinedAt time.Time     `bson:"joinedAt"`
	LeftAt   time.Time     `bson:"leftAt,omitempty"`
	IsActive bool          `bson:"isActive"`
}

func (s *Store) GetOrCreateViewer(ctx context.Context, streamID, userID string) (store.Viewer, error) {
	filter := bson.M{"streamId": streamID, "userId": userID}
	update := bson.M{
		"$set":         bson.M{"isActive": true},
		"$setOnInsert": bson.M{"joinedAt": time.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc viewerDocument
	err := s.viewers.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		return store.Viewer{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Viewer{
		ID:       doc.ID.Hex(),
		StreamID: doc.StreamID,
		UserID:   doc.UserID,
		JoinedAt: doc.JoinedAt,
		LeftAt:   doc.LeftAt,
		IsActive: doc.IsActive,
	}, nil
}

func (s *Store) MarkViewerLeft(ctx context.Context, streamID, userID string) error {
	_, err := s.viewers.UpdateOne(ctx,
		bson.M{"streamId": streamID, "userId": userID},
		bson.M{"$set": bson.M{"isActive": false, "leftAt": time.Now()}},
	)
	if err != nil {
		return ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n store.NewNotification) (store.Notification, error) {
	createdAt := time.Now()

	result, err := s.notifications.InsertOne(ctx, bson.D{
		{Key: "recipientId", Value: n.RecipientID},
		{Key: "senderId", Value: n.SenderID},
		{Key: "type", Value: n.Type},
		{Key: "objectType", Value: n.ObjectType},
		{Key: "objectId", Value: n.ObjectID},
		{Key: "isRead", Value: false},
		{Key: "createdAt", Value: createdAt},
	})
	if err != nil {
		return store.Notification{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Notification{
		ID:          result.InsertedID.(bson.ObjectID).Hex(),
		RecipientID: n.RecipientID,
		SenderID:    n.SenderID,
		Type:        n.Type,
		ObjectType:  n.ObjectType,
		ObjectID:    n.ObjectID,
		CreatedAt:   createdAt,
	}, nil
}

type preferencesDocument struct {
	UserID    string          `bson:"userId"`
	Flags     map[string]bool `bson:"flags"`
	FCMTokens []string        `bson:"fcmTokens"`
	Email     string          `bson:"email"`
	FullName  string          `bson:"fullName"`
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (store.Preferences, error) {
	var doc preferencesDocument
	err := s.preferences.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.DefaultPreferences(userID), nil
	}
	if err != nil {
		return store.Preferences{}, ierr.New(ierr.ErrorCodePersistenceFailure, err)
	}

	return store.Preferences{
		UserID:    doc.UserID,
		Flags:     doc.Flags,
		FCMTokens: doc.FCMTokens,
		Email:     doc.Email,
		FullName:  doc.FullName,
	}, nil
}
