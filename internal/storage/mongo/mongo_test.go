package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/pkg/model"
)

// Integration test; requires a reachable deployment, e.g.
// DRIFTDB_MONGO_URI=mongodb://localhost:27017 go test ./...
func TestMongoCollaborator(t *testing.T) {
	uri := os.Getenv("DRIFTDB_MONGO_URI")
	if uri == "" {
		t.Skip("DRIFTDB_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := New(uri, "driftdb_test", "posts_"+uuid.NewString())
	require.NoError(t, c.Setup(ctx))
	defer func() {
		assert.NoError(t, c.RemoveAll(ctx))
		assert.NoError(t, c.Teardown(ctx))
	}()

	require.NoError(t, c.Insert(ctx, []model.Document{
		{"id": "1", "name": "alice", "age": float64(30)},
		{"id": "2", "name": "bob", "age": float64(25)},
	}))

	all, err := c.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byID, err := c.ReadIDs(ctx, []string{"1"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "alice", byID[0]["name"])
	assert.Equal(t, "1", byID[0].GetID())

	require.NoError(t, c.Replace(ctx, []model.Document{{"id": "1", "name": "alice", "age": float64(31)}}))
	byID, err = c.ReadIDs(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, float64(31), byID[0]["age"])

	require.NoError(t, c.CreateIndex(ctx, "age"))
	idx, err := c.ReadIndex(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, idx["31"])
	require.NoError(t, c.DropIndex(ctx, "age"))

	require.NoError(t, c.Remove(ctx, []model.Document{{"id": "2"}}))
	all, err = c.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
