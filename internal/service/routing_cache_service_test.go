package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	pkgEvents "procedure-assistant-be/pkg/events"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/store"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCacheStore struct {
	mu       sync.Mutex
	current  *cache.Artifact
	err      error
	rebuilds int
	loads    int
	fresh    bool
}

func (f *fakeCacheStore) Current() *cache.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeCacheStore) Err() error      { return f.err }
func (f *fakeCacheStore) Path() string    { return "data/routing-cache/routing-cache.test-model.json" }
func (f *fakeCacheStore) ModelID() string { return "test-model" }

func (f *fakeCacheStore) Load() (*cache.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.current, nil
}

func (f *fakeCacheStore) EnsureFresh(ctx context.Context, src cache.DocumentSource) (*cache.Artifact, bool, error) {
	if f.fresh {
		return f.Current(), false, nil
	}
	a, err := f.Rebuild(ctx, src)
	return a, err == nil, err
}

func (f *fakeCacheStore) Rebuild(ctx context.Context, src cache.DocumentSource) (*cache.Artifact, error) {
	collections, err := src.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	a, err := tinyArtifact(time.Now())
	if err != nil {
		return nil, err
	}
	a.Header.CollectionCount = len(collections)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	f.current = a
	return a, nil
}

func (f *fakeCacheStore) counts() (rebuilds, loads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rebuilds, f.loads
}

func tinyArtifact(createdAt time.Time) (*cache.Artifact, error) {
	return cache.NewArtifact("test-model", createdAt,
		[]cache.CollectionEntry{{ID: "c", Name: "C", DocumentIDs: []string{"d"}}},
		[]cache.DocumentEntry{{ID: "d", CollectionID: "c", Title: "D", Questions: []string{"q"}, Vectors: [][]float32{{1, 0}}}},
	)
}

type staticSource []store.Collection

func (s staticSource) ListCollections(ctx context.Context) ([]store.Collection, error) {
	return s, nil
}

func (s staticSource) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	return nil, nil
}

type syncEvents struct {
	mu sync.Mutex
	fakeEvents
}

func (s *syncEvents) PublishCacheRebuilt(ctx context.Context, header cache.Header, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fakeEvents.PublishCacheRebuilt(ctx, header, trigger)
}

func (s *syncEvents) snapshot() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func newCacheService(t *testing.T, st *fakeCacheStore, loadErr error) (IRoutingCacheService, *syncEvents) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	events := &syncEvents{}
	loader := func(ctx context.Context) (cache.DocumentSource, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return staticSource{{ID: "notarization"}, {ID: "passport"}}, nil
	}
	return NewRoutingCacheService(st, loader, pubSub, pubSub, events, logger.NewNopLogger()), events
}

func TestRequestRebuild_ConsumedFromQueue(t *testing.T) {
	st := &fakeCacheStore{}
	svc, events := newCacheService(t, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Consume(ctx))

	res, err := svc.RequestRebuild(ctx, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Status)
	assert.NotEmpty(t, res.RequestId)

	assert.Eventually(t, func() bool {
		rebuilds, _ := st.counts()
		return rebuilds == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(events.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "rebuilt:operator", events.snapshot()[0].kind)

	status := svc.Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, 2, status.CollectionCount)
}

func TestRequestRebuild_SkippedWhenCacheIsNewer(t *testing.T) {
	future, err := tinyArtifact(time.Now().Add(time.Hour))
	require.NoError(t, err)
	st := &fakeCacheStore{current: future}
	svc, events := newCacheService(t, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Consume(ctx))
	_, err = svc.RequestRebuild(ctx, "operator-1")
	require.NoError(t, err)

	assert.Never(t, func() bool {
		rebuilds, _ := st.counts()
		return rebuilds > 0
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, events.snapshot())
}

func TestEnsureFresh(t *testing.T) {
	st := &fakeCacheStore{}
	svc, events := newCacheService(t, st, nil)
	require.NoError(t, svc.EnsureFresh(context.Background()))
	assert.Equal(t, []recordedEvent{{"rebuilt:startup", ""}}, events.snapshot())

	st = &fakeCacheStore{fresh: true}
	svc, events = newCacheService(t, st, nil)
	require.NoError(t, svc.EnsureFresh(context.Background()))
	assert.Empty(t, events.snapshot())

	svc, _ = newCacheService(t, &fakeCacheStore{}, errors.New("db down"))
	assert.Error(t, svc.EnsureFresh(context.Background()))
}

func TestHandleRemoteRebuild(t *testing.T) {
	now := time.Now().UTC()
	current, err := tinyArtifact(now)
	require.NoError(t, err)

	tests := []struct {
		name      string
		model     string
		createdAt time.Time
		wantLoad  bool
	}{
		{"newer artifact", "test-model", now.Add(time.Minute), true},
		{"same artifact", "test-model", now, false},
		{"other model", "other-model", now.Add(time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeCacheStore{current: current}
			svc, _ := newCacheService(t, st, nil)

			err := svc.HandleRemoteRebuild(context.Background(), pkgEvents.BaseEvent{
				Type: pkgEvents.TypeRoutingCacheRebuilt,
				Data: map[string]interface{}{
					"embedding_model": tt.model,
					"created_at":      tt.createdAt.Format(time.RFC3339Nano),
				},
			})
			require.NoError(t, err)
			_, loads := st.counts()
			assert.Equal(t, tt.wantLoad, loads == 1)
		})
	}
}

func TestStatus_NotLoaded(t *testing.T) {
	st := &fakeCacheStore{err: cache.ErrCacheMissing}
	svc, _ := newCacheService(t, st, nil)

	status := svc.Status()
	assert.False(t, status.Loaded)
	assert.Equal(t, "test-model", status.EmbeddingModel)
	assert.Contains(t, status.Error, "not found")
}
