// Package evalhistory keeps a transcript of evaluate/REPL activity in
// MongoDB. Results are heterogeneous and variable-shape (multi-value
// returns, typed display strings), which fits a document store better
// than the relational audit log.
package evalhistory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sssooonnnggg/luaud/internal/logging"
)

const collectionName = "eval_history"

// Entry is one recorded evaluation.
type Entry struct {
	SessionID  string    `bson:"session_id"`
	FrameID    int       `bson:"frame_id"`
	Context    string    `bson:"context"`
	Expression string    `bson:"expression"`
	ResultType string    `bson:"result_type"`
	Results    []string  `bson:"results"`
	At         time.Time `bson:"at"`
}

// Handler wraps a MongoDB client scoped to the transcript collection.
type Handler struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *logging.Logger
}

// New connects to the given MongoDB URI and verifies the connection.
func New(uri, dbName string, log *logging.Logger) (*Handler, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Handler{
		client: client,
		coll:   client.Database(dbName).Collection(collectionName),
		log:    log,
	}, nil
}

// Record appends one evaluation to the transcript. The insert happens
// on its own goroutine: recording is fire-and-forget and must never
// stall a paused VM thread.
func (h *Handler) Record(sessionID string, frameID int, evalContext, expression, resultType string, results []string) {
	entry := Entry{
		SessionID:  sessionID,
		FrameID:    frameID,
		Context:    evalContext,
		Expression: expression,
		ResultType: resultType,
		Results:    results,
		At:         time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := h.coll.InsertOne(ctx, entry); err != nil {
			h.log.Warnf("eval history insert: %v", err)
		}
	}()
}

// Recent returns the n newest entries for sessionID, newest first.
func (h *Handler) Recent(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "at", Value: -1}}).
		SetLimit(int64(n))
	cursor, err := h.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find eval history: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Entry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode eval history: %w", err)
	}
	return out, nil
}

// Close disconnects the MongoDB client.
func (h *Handler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.client.Disconnect(ctx)
}
