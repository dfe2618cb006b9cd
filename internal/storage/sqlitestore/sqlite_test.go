package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "synapse.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMemory(id string, now time.Time) *domain.Memory {
	return &domain.Memory{
		ID: id, Agent: "planner", Text: "text for " + id, Category: domain.CategoryFact,
		Importance: 0.5, CreatedAt: now, UpdatedAt: now,
		Provenance: domain.Provenance{Source: domain.SourceInference, Corroboration: 1, Trust: 0.5},
		Confidence: 0.5, Status: domain.StatusActive,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	event := now.Add(-24 * time.Hour)
	m1 := sampleMemory("m1", now)
	m1.Tags = []string{"alpha", "beta"}
	m1.Embedding = []float32{0.5, -0.25, 1.0}
	m1.Links = []domain.Link{
		{TargetID: "m2", Similarity: 0.93, Type: domain.LinkSimilar},
		{TargetID: "m3", Similarity: 0.81, Type: domain.LinkRelated},
	}
	m1.EventAt = &event
	m1.Claim = &domain.Claim{Subject: "user", Predicate: "timezone", Value: "UTC", NormalizedValue: "utc", Scope: domain.ScopeGlobal}
	m1.Stability = 2.5
	m1.LastReviewInterval = 1.25

	m2 := sampleMemory("m2", now)
	m2.Status = domain.StatusQuarantined
	m2.Quarantine = &domain.Quarantine{Reason: domain.QuarantineTrustInsufficient, CreatedAt: now}

	err := s.Save(ctx, []*domain.Memory{m1, m2})
	assert.NoError(t, err)

	out, err := s.Load(ctx)
	assert.NoError(t, err)
	if !assert.Len(t, out, 2) {
		return
	}
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, "m2", out[1].ID)

	got := out[0]
	assert.Equal(t, []string{"alpha", "beta"}, got.Tags)
	assert.Equal(t, []float32{0.5, -0.25, 1.0}, got.Embedding)
	if assert.Len(t, got.Links, 2) {
		assert.Equal(t, "m2", got.Links[0].TargetID)
		assert.Equal(t, domain.LinkRelated, got.Links[1].Type)
	}
	if assert.NotNil(t, got.EventAt) {
		assert.True(t, got.EventAt.Equal(event))
	}
	if assert.NotNil(t, got.Claim) {
		assert.Equal(t, "utc", got.Claim.NormalizedValue)
	}
	assert.Equal(t, 2.5, got.Stability)
	assert.Equal(t, 1.25, got.LastReviewInterval)

	if assert.NotNil(t, out[1].Quarantine) {
		assert.Equal(t, domain.QuarantineTrustInsufficient, out[1].Quarantine.Reason)
	}
}

func TestArchiveIsSeparate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	err := s.Save(ctx, []*domain.Memory{sampleMemory("active1", now)})
	assert.NoError(t, err)

	archived := sampleMemory("old1", now)
	archived.Status = domain.StatusArchived
	archived.ArchivedAt = &now
	archived.ArchivedReason = "decayed"
	err = s.SaveArchive(ctx, []*domain.Memory{archived})
	assert.NoError(t, err)

	active, err := s.Load(ctx)
	assert.NoError(t, err)
	if assert.Len(t, active, 1) {
		assert.Equal(t, "active1", active[0].ID)
	}

	arch, err := s.LoadArchive(ctx)
	assert.NoError(t, err)
	if assert.Len(t, arch, 1) {
		assert.Equal(t, "old1", arch[0].ID)
		assert.Equal(t, "decayed", arch[0].ArchivedReason)
		assert.NotNil(t, arch[0].ArchivedAt)
	}
}

func TestUpsertKeepsPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	err := s.Save(ctx, []*domain.Memory{sampleMemory("m1", now), sampleMemory("m2", now)})
	assert.NoError(t, err)

	m1 := sampleMemory("m1", now)
	m1.Text = "updated text"
	m1.AccessCount = 5
	assert.NoError(t, s.Upsert(ctx, m1))

	out, err := s.Load(ctx)
	assert.NoError(t, err)
	if !assert.Len(t, out, 2) {
		return
	}
	assert.Equal(t, "m1", out[0].ID) // updates must not move the row
	assert.Equal(t, "updated text", out[0].Text)
	assert.Equal(t, 5, out[0].AccessCount)

	assert.NoError(t, s.Upsert(ctx, sampleMemory("m3", now)))
	out, err = s.Load(ctx)
	assert.NoError(t, err)
	if assert.Len(t, out, 3) {
		assert.Equal(t, "m3", out[2].ID) // new rows append
	}
}

func TestRemoveDropsLinksBothWays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	m1 := sampleMemory("m1", now)
	m1.Links = []domain.Link{{TargetID: "m2", Similarity: 0.9, Type: domain.LinkSimilar}}
	m2 := sampleMemory("m2", now)
	m2.Links = []domain.Link{{TargetID: "m1", Similarity: 0.9, Type: domain.LinkSimilar}}
	assert.NoError(t, s.Save(ctx, []*domain.Memory{m1, m2}))

	assert.NoError(t, s.Remove(ctx, "m2"))

	out, err := s.Load(ctx)
	assert.NoError(t, err)
	if assert.Len(t, out, 1) {
		assert.Len(t, out[0].Links, 0)
	}
}

func TestUpsertLinksRewrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	m1 := sampleMemory("m1", now)
	m1.Links = []domain.Link{{TargetID: "m2", Similarity: 0.8, Type: domain.LinkSimilar}}
	assert.NoError(t, s.Save(ctx, []*domain.Memory{m1, sampleMemory("m2", now)}))

	err := s.UpsertLinks(ctx, "m1", []domain.Link{{TargetID: "m2", Similarity: 0.99, Type: domain.LinkSupersedes}})
	assert.NoError(t, err)

	out, err := s.Load(ctx)
	assert.NoError(t, err)
	if assert.Len(t, out[0].Links, 1) {
		assert.Equal(t, 0.99, out[0].Links[0].Similarity)
		assert.Equal(t, domain.LinkSupersedes, out[0].Links[0].Type)
	}
}

func TestEpisodeAndConflictDocs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	eps := []*domain.Episode{{
		ID: "e1", Name: "sprint review", MemoryIDs: []string{"m1", "m2"},
		TimeRange: domain.TimeRange{Start: now.Add(-time.Hour), End: now},
		CreatedAt: now, UpdatedAt: now,
	}}
	assert.NoError(t, s.SaveEpisodes(ctx, eps))
	gotEps, err := s.LoadEpisodes(ctx)
	assert.NoError(t, err)
	if assert.Len(t, gotEps, 1) {
		assert.Equal(t, "sprint review", gotEps[0].Name)
	}

	resolved := now.Add(time.Minute)
	conflicts := []*domain.PendingConflict{
		{ID: "c1", NewID: "m2", ExistingID: "m1", CreatedAt: now},
		{ID: "c2", NewID: "m3", ExistingID: "m1", CreatedAt: now, ResolvedAt: &resolved, Resolution: "supersede"},
	}
	assert.NoError(t, s.SavePendingConflicts(ctx, conflicts))
	gotCf, err := s.LoadPendingConflicts(ctx)
	assert.NoError(t, err)
	if assert.Len(t, gotCf, 2) {
		assert.True(t, gotCf[0].Open())
		assert.False(t, gotCf[1].Open())
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	assert.NoError(t, err)
	assert.Equal(t, in, out)

	got, err := decodeVector(nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = decodeVector([]byte{1, 2})
	assert.Error(t, err) // truncated blob
}
