// Package mongostore is a remote document collection kept in MongoDB.
// Subscriptions are served from change streams, so they require a replica
// set (a single-node one is enough).
//
// DOCUMENT SHAPE:
// Documents carry title, content, language, tags, date, userId and
// clientToken, with _id holding an xid string. Reads go through remote.DecodeDocument, so a
// document written by hand with a missing or mistyped field is rejected
// instead of crashing the client.
//
// CHANGE STREAMS:
// Subscribe opens a change stream filtered on userId with
// fullDocument=updateLookup, then reads the user's documents. Deletes carry
// only the _id, so the stream also passes every delete and the subscription
// keeps the set of ids it has seen for this user to decide which ones to
// forward.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/repository"
)

// CollectionSnippets is the MongoDB collection snippets are stored in.
const CollectionSnippets = "snippets"

// Compile-time check that *Collection implements remote.Adapter.
var _ remote.Adapter = (*Collection)(nil)

// Collection is the remote collection backed by MongoDB. Documents are keyed
// by an xid string in _id; the change feed comes from change streams, not
// from the writes made through this value.
type Collection struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// Connect opens a pooled client and checks the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// POOL SETTINGS:
	// Every open change stream pins one connection for as long as a client is
	// subscribed, so the pool is sized for subscribers plus request traffic.
	// ServerSelectionTimeout bounds how long a request waits when no primary
	// is available, instead of the driver default of 30s.
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connecting: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: pinging: %w", err)
	}
	return client, nil
}

// New returns a Collection over db's snippets collection.
func New(db *mongo.Database, logger *slog.Logger) *Collection {
	return &Collection{
		coll:   db.Collection(CollectionSnippets),
		logger: logger,
	}
}

// EnsureIndexes creates the index the per-user listing sorts on.
func (c *Collection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: creating index: %w", err)
	}
	return nil
}

// Create inserts snippet under a new xid and returns it.
func (c *Collection) Create(ctx context.Context, snippet model.Snippet) (string, error) {
	if snippet.UserID == "" {
		return "", apperror.ValidationFailed("userId", "snippet owner is required")
	}
	snippet.ID = xid.New().String()
	if snippet.Date.IsZero() {
		snippet.Date = model.Now()
	}
	if _, err := c.coll.InsertOne(ctx, toDocument(snippet)); err != nil {
		return "", fmt.Errorf("mongostore: inserting snippet: %w", err)
	}
	return snippet.ID, nil
}

// Update $sets the fields patch carries. An empty patch only checks id exists.
func (c *Collection) Update(ctx context.Context, id string, patch model.Patch) error {
	set := updateFields(patch)
	// an empty $set is a server error; answer like an update that matched
	if len(set) == 0 {
		_, err := c.GetByID(ctx, id)
		return err
	}
	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongostore: updating snippet %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("snippet", id)
	}
	return nil
}

// Delete removes id, or returns NotFound.
func (c *Collection) Delete(ctx context.Context, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongostore: deleting snippet %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("snippet", id)
	}
	return nil
}

// GetByID decodes the document through remote.DecodeDocument.
func (c *Collection) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	var doc bson.M
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("snippet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: finding snippet %s: %w", id, err)
	}
	s, err := remote.DecodeDocument(id, remote.Document(doc))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByUser returns the user's documents newest first. Malformed documents
// are logged and skipped.
func (c *Collection) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	find := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		find.SetSkip(int64(opts.Offset))
	}

	cur, err := c.coll.Find(ctx, bson.M{"userId": userID}, find)
	if err != nil {
		return nil, fmt.Errorf("mongostore: listing snippets: %w", err)
	}
	defer cur.Close(ctx)

	list := []model.Snippet{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decoding snippet: %w", err)
		}
		id, _ := doc["_id"].(string)
		s, err := remote.DecodeDocument(id, remote.Document(doc))
		if err != nil {
			c.logger.Warn("skipping malformed snippet",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		list = append(list, s)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongostore: iterating snippets: %w", err)
	}
	return list, nil
}

// Subscribe opens the change stream before reading the initial documents,
// so a write racing the subscription is seen at least once.
func (c *Collection) Subscribe(ctx context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.userId": userID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	stream, err := c.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("mongostore: watching snippets: %w", err)
	}

	initial, err := c.ListByUser(ctx, userID, repository.ListOptions{})
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}
	// ListByUser is newest first and the store lists the last added record
	// first, so replay oldest first to end up in date order.
	slices.Reverse(initial)

	// The subscription outlives the call that opened it; only Unsubscribe
	// ends it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	tr := newTracker(userID)

	go func() {
		defer close(done)
		defer stream.Close(context.Background())

		// === SNAPSHOT ===
		for _, s := range initial {
			if streamCtx.Err() != nil {
				return
			}
			onChange(tr.seed(s))
		}

		// === LIVE ===
		// Changes made between Watch and the snapshot read show up twice;
		// the second copy is an echo the store ignores.
		for stream.Next(streamCtx) {
			var ch changeEvent
			if err := stream.Decode(&ch); err != nil {
				c.logger.Warn("undecodable change event", slog.String("error", err.Error()))
				continue
			}
			ev, ok, err := tr.translate(ch)
			if err != nil {
				c.logger.Warn("dropping malformed change",
					slog.String("id", ch.DocumentKey.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if ok {
				onChange(ev)
			}
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			c.logger.Error("change stream ended",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return remote.OnceUnsubscribe(func() {
		cancel()
		<-done
	}), nil
}

// changeEvent is the subset of a change stream document this package reads.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

// tracker turns raw changes into events for one user. Deletes carry no
// owner, so only ids this subscription has announced produce a removed event.
type tracker struct {
	userID string
	known  map[string]bool
}

// newTracker returns a tracker that has announced nothing yet.
func newTracker(userID string) *tracker {
	return &tracker{userID: userID, known: make(map[string]bool)}
}

// seed announces a snapshot record.
func (t *tracker) seed(s model.Snippet) remote.Event {
	t.known[s.ID] = true
	return remote.AddedEvent(s)
}

// translate maps one raw change to an event. ok is false for changes that
// belong to another user or need no event.
func (t *tracker) translate(ch changeEvent) (remote.Event, bool, error) {
	id := ch.DocumentKey.ID
	switch ch.OperationType {
	case "insert", "update", "replace":
		if ch.FullDocument == nil {
			// deleted before the lookup ran; the delete follows
			return remote.Event{}, false, nil
		}
		s, err := remote.DecodeDocument(id, remote.Document(ch.FullDocument))
		if err != nil {
			return remote.Event{}, false, err
		}
		if s.UserID != t.userID {
			return remote.Event{}, false, nil
		}
		if t.known[id] {
			return remote.ModifiedEvent(s), true, nil
		}
		t.known[id] = true
		return remote.AddedEvent(s), true, nil
	case "delete":
		if !t.known[id] {
			return remote.Event{}, false, nil
		}
		delete(t.known, id)
		return remote.RemovedEvent(id), true, nil
	}
	return remote.Event{}, false, nil
}

func toDocument(s model.Snippet) bson.M {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return bson.M{
		"_id":         s.ID,
		"title":       s.Title,
		"content":     s.Content,
		"language":    string(s.Language),
		"tags":        tags,
		"date":        model.NormalizeDate(s.Date),
		"userId":      s.UserID,
		"clientToken": s.ClientToken,
	}
}

func updateFields(patch model.Patch) bson.M {
	patch = patch.Normalize()
	set := bson.M{}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Language != nil {
		set["language"] = string(*patch.Language)
	}
	if patch.Tags != nil {
		set["tags"] = *patch.Tags
	}
	if patch.Date != nil {
		set["date"] = model.NormalizeDate(*patch.Date)
	}
	return set
}
