// ABOUTME: Tests for the bounded conversation and movie stores
// ABOUTME: Covers capacity eviction, cascade deletion, paging, and corrupt collections

package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/live-companion/internal/store"
)

type recordingBlobs struct {
	mu      sync.Mutex
	deleted []string
}

func (r *recordingBlobs) Delete(atts []Attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, a := range atts {
		for _, n := range a.FileNames() {
			if !seen[n] {
				seen[n] = true
				r.deleted = append(r.deleted, n)
			}
		}
	}
}

func (r *recordingBlobs) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.deleted...)
	sort.Strings(out)
	return out
}

func recordWithImages(id string, n int) Record {
	msg := Message{ID: id + "-m", Role: RoleUser, Content: "hello " + id, Timestamp: time.Now()}
	for i := range n {
		msg.ImageAttachments = append(msg.ImageAttachments, Attachment{
			ID:               fmt.Sprintf("%s-a%d", id, i),
			FileName:         fmt.Sprintf("%s-a%d-preview.jpg", id, i),
			OriginalFileName: fmt.Sprintf("%s-a%d-original.jpg", id, i),
		})
	}
	return Record{ID: id, Timestamp: time.Now(), Messages: []Message{msg}, AIModel: DefaultModel, Language: "zh-CN", Category: CategoryLiveAI}
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestStore_SavePrependsMostRecentFirst(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), &recordingBlobs{}, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, recordWithImages("a", 0)))
	require.NoError(t, s.Save(ctx, recordWithImages("b", 0)))
	require.NoError(t, s.Save(ctx, recordWithImages("c", 0)))

	assert.Equal(t, []string{"c", "b", "a"}, ids(s.LoadAll(ctx)))
}

func TestStore_CapacityEvictsOldestAndCascades(t *testing.T) {
	blobs := &recordingBlobs{}
	s := NewStoreWithCapacity(store.NewMemoryKV(), blobs, 3, nil)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Save(ctx, recordWithImages(fmt.Sprintf("r%d", i), 1)))
		assert.LessOrEqual(t, len(s.LoadAll(ctx)), 3)
	}

	assert.Equal(t, []string{"r4", "r3", "r2"}, ids(s.LoadAll(ctx)))
	assert.Equal(t, []string{
		"r0-a0-original.jpg", "r0-a0-preview.jpg",
		"r1-a0-original.jpg", "r1-a0-preview.jpg",
	}, blobs.names())
}

func TestStore_DefaultCapacityIsHundred(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), &recordingBlobs{}, nil)
	ctx := context.Background()

	for i := range DefaultCapacity + 5 {
		require.NoError(t, s.Save(ctx, recordWithImages(fmt.Sprintf("r%03d", i), 0)))
	}

	all := s.LoadAll(ctx)
	require.Len(t, all, DefaultCapacity)
	assert.Equal(t, "r104", all[0].ID)
	assert.Equal(t, "r005", all[len(all)-1].ID)
}

func TestStore_LoadPage(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), nil, nil)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Save(ctx, recordWithImages(fmt.Sprintf("r%d", i), 0)))
	}

	assert.Equal(t, []string{"r4", "r3"}, ids(s.LoadPage(ctx, 2, 0)))
	assert.Equal(t, []string{"r1", "r0"}, ids(s.LoadPage(ctx, 10, 3)))
	assert.Empty(t, s.LoadPage(ctx, 2, 5))
	assert.Empty(t, s.LoadPage(ctx, 0, 0))
}

func TestStore_DeleteCascadesExactlyThatRecord(t *testing.T) {
	blobs := &recordingBlobs{}
	s := NewStore(store.NewMemoryKV(), blobs, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, recordWithImages("keep", 1)))
	require.NoError(t, s.Save(ctx, recordWithImages("drop", 2)))

	require.NoError(t, s.Delete(ctx, "drop"))

	assert.Equal(t, []string{"keep"}, ids(s.LoadAll(ctx)))
	assert.Equal(t, []string{
		"drop-a0-original.jpg", "drop-a0-preview.jpg",
		"drop-a1-original.jpg", "drop-a1-preview.jpg",
	}, blobs.names())

	assert.ErrorIs(t, s.Delete(ctx, "drop"), ErrNotFound)
}

func TestStore_DeleteAll(t *testing.T) {
	blobs := &recordingBlobs{}
	s := NewStore(store.NewMemoryKV(), blobs, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, recordWithImages("a", 1)))
	require.NoError(t, s.Save(ctx, recordWithImages("b", 1)))
	require.NoError(t, s.DeleteAll(ctx))

	assert.Empty(t, s.LoadAll(ctx))
	assert.Len(t, blobs.names(), 4)
}

func TestStore_Get(t *testing.T) {
	s := NewStore(store.NewMemoryKV(), nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, recordWithImages("a", 0)))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello a", got.Messages[0].Content)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CorruptCollectionReadsEmpty(t *testing.T) {
	kv := store.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, conversationsKey, []byte("{not json")))

	s := NewStore(kv, nil, nil)
	assert.Empty(t, s.LoadAll(ctx))

	require.NoError(t, s.Save(ctx, recordWithImages("fresh", 0)))
	assert.Equal(t, []string{"fresh"}, ids(s.LoadAll(ctx)))
}

func TestStore_RewritesWholeCollectionPerMutation(t *testing.T) {
	kv := store.NewMemoryKV()
	s := NewStore(kv, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, recordWithImages("a", 0)))
	require.NoError(t, s.Save(ctx, recordWithImages("b", 0)))
	require.NoError(t, s.Delete(ctx, "a"))

	assert.Equal(t, 3, kv.Writes())
}

func TestMovieStore_SingleAttachmentCascade(t *testing.T) {
	blobs := &recordingBlobs{}
	s := NewMovieStore(store.NewMemoryKV(), blobs, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, MovieRecord{ID: "plain", Headline: "h"}))
	require.NoError(t, s.Save(ctx, MovieRecord{
		ID:              "with-image",
		Headline:        "h2",
		ImageAttachment: &Attachment{ID: "x", FileName: "x-preview.jpg"},
	}))

	require.NoError(t, s.Delete(ctx, "plain"))
	assert.Empty(t, blobs.names())

	require.NoError(t, s.DeleteAll(ctx))
	assert.Equal(t, []string{"x-preview.jpg"}, blobs.names())
	assert.Empty(t, s.LoadAll(ctx))
}

func TestMovieStore_Bounded(t *testing.T) {
	s := NewMovieStore(store.NewMemoryKV(), &recordingBlobs{}, nil)
	ctx := context.Background()
	for i := range DefaultCapacity + 1 {
		require.NoError(t, s.Save(ctx, MovieRecord{ID: fmt.Sprintf("m%d", i)}))
	}
	all := s.LoadAll(ctx)
	assert.Len(t, all, DefaultCapacity)
	assert.Equal(t, "m100", all[0].ID)
}
