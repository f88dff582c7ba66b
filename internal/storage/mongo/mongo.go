// Package mongo provides a storage collaborator backed by a MongoDB
// collection. Documents are stored with their driftdb id as _id; the
// in-memory store stays authoritative for reads, Mongo owns durability.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

// Collaborator persists one driftdb collection into one MongoDB collection.
type Collaborator struct {
	uri        string
	database   string
	collection string

	client *mongo.Client
	coll   *mongo.Collection
}

// New creates a collaborator for the given connection parameters. The
// connection is established in Setup.
func New(uri, database, collection string) *Collaborator {
	return &Collaborator{uri: uri, database: database, collection: collection}
}

// Setup connects and verifies the deployment is reachable.
func (c *Collaborator) Setup(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	c.client = client
	c.coll = client.Database(c.database).Collection(c.collection)
	return nil
}

// Teardown disconnects the client.
func (c *Collaborator) Teardown(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.coll = nil
	return err
}

// ReadAll returns every persisted document.
func (c *Collaborator) ReadAll(ctx context.Context) ([]model.Document, error) {
	cursor, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	defer cursor.Close(ctx)

	var out []model.Document
	for cursor.Next(ctx) {
		doc, err := decodeDocument(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

// ReadIDs returns the persisted documents with the given ids.
func (c *Collaborator) ReadIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	cursor, err := c.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	defer cursor.Close(ctx)

	var out []model.Document
	for cursor.Next(ctx) {
		doc, err := decodeDocument(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

// CreateIndex creates a single-field ascending index.
func (c *Collaborator) CreateIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", field, err)
	}
	return nil
}

// DropIndex drops the single-field index created by CreateIndex.
func (c *Collaborator) DropIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().DropOne(ctx, field+"_1")
	if err != nil {
		return fmt.Errorf("drop index %s: %w", field, err)
	}
	return nil
}

// ReadIndex derives the serialized-value to ids mapping for a field.
func (c *Collaborator) ReadIndex(ctx context.Context, field string) (map[string][]string, error) {
	cursor, err := c.coll.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1, field: 1}))
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	out := map[string][]string{}
	for cursor.Next(ctx) {
		var row map[string]interface{}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode index row: %w", err)
		}
		id, _ := row["_id"].(string)
		key := index.Key(row[field])
		out[key] = append(out[key], id)
	}
	return out, cursor.Err()
}

// Insert persists new documents.
func (c *Collaborator) Insert(ctx context.Context, items []model.Document) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]interface{}, len(items))
	for i, item := range items {
		rows[i] = encodeDocument(item)
	}
	if _, err := c.coll.InsertMany(ctx, rows); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Replace upserts new versions of existing documents, matched by id.
func (c *Collaborator) Replace(ctx context.Context, items []model.Document) error {
	for _, item := range items {
		_, err := c.coll.ReplaceOne(ctx,
			bson.M{"_id": item.GetID()},
			encodeDocument(item),
			options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("replace %s: %w", item.GetID(), err)
		}
	}
	return nil
}

// Remove deletes the given documents by id.
func (c *Collaborator) Remove(ctx context.Context, items []model.Document) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.GetID()
	}
	if _, err := c.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// RemoveAll deletes every document of the collection.
func (c *Collaborator) RemoveAll(ctx context.Context) error {
	if _, err := c.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("remove all: %w", err)
	}
	return nil
}

func encodeDocument(item model.Document) bson.M {
	row := bson.M{"_id": item.GetID()}
	for key, value := range item {
		if key == "id" {
			continue
		}
		row[key] = value
	}
	return row
}

func decodeDocument(cursor *mongo.Cursor) (model.Document, error) {
	var row map[string]interface{}
	if err := cursor.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := model.Document{}
	for key, value := range row {
		if key == "_id" {
			doc["id"] = value
			continue
		}
		doc[key] = value
	}
	return doc, nil
}
