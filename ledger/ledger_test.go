package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursechatbot/descriptor/descriptortest"
	"coursechatbot/descriptor/models"
)

// openTestStore opens an in-memory ledger closed when the test finishes
func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStore_RecordAndLatest(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	latest, err := store.Latest(ctx, descriptortest.StackName)
	require.NoError(t, err)
	assert.Nil(t, latest)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return clock }

	first, err := store.Record(ctx, descriptortest.Graph(t))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	clock = clock.Add(time.Hour)
	second, err := store.Record(ctx, descriptortest.Graph(t, func(s *models.StackSpec) {
		s.InstanceType = "t3.small"
	}))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err = store.Latest(ctx, descriptortest.StackName)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, second.GraphDigest, latest.GraphDigest)
	assert.Equal(t, models.VariantStandard, latest.Variant)
	assert.True(t, clock.Equal(latest.RecordedAt))

	other, err := store.Latest(ctx, "another-stack")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCompare(t *testing.T) {
	base, err := Snapshot(descriptortest.Graph(t))
	require.NoError(t, err)
	base.RecordedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		previous *Deployment
		mutate   func(*models.StackSpec)
		expected []NoticeKind
	}{
		{
			name:     "first synthesis",
			previous: nil,
			expected: []NoticeKind{NoticeFirstDeployment},
		},
		{
			name:     "unchanged graph",
			previous: &base,
			expected: []NoticeKind{NoticeUnchanged},
		},
		{
			name:     "asset edit does not re-run on the existing host",
			previous: &base,
			mutate: func(s *models.StackSpec) {
				s.Assets.NginxConfig = "events { worker_connections 512; }\n"
			},
			expected: []NoticeKind{NoticeBootstrapStale},
		},
		{
			name:     "instance change alongside a script change",
			previous: &base,
			mutate: func(s *models.StackSpec) {
				s.InstanceType = "t3.small"
				s.AppName = "tutor"
			},
			expected: nil,
		},
		{
			name:     "variant switch",
			previous: &base,
			mutate: func(s *models.StackSpec) {
				s.Variant = models.VariantSourcePython
			},
			expected: []NoticeKind{NoticeVariantChanged, NoticeBootstrapStale},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*models.StackSpec)
			if tt.mutate != nil {
				mutators = append(mutators, tt.mutate)
			}
			current, err := Snapshot(descriptortest.Graph(t, mutators...))
			require.NoError(t, err)

			var kinds []NoticeKind
			for _, n := range Compare(tt.previous, current) {
				kinds = append(kinds, n.Kind)
				assert.NotEmpty(t, n.Message)
			}
			assert.Equal(t, tt.expected, kinds)
		})
	}
}
