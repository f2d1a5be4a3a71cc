package devserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

const testSeed = `
users:
  - id: "1"
    name: Alice
    avatar: https://example.com/a.png
    conversations:
      - id: c1
        partner_id: "2"
        unread_count: 2
    groups:
      - id: g1
        name: Team
        unread_count: 3
  - id: "2"
    name: Bob
    groups:
      - id: g1
        name: Team
`

func TestImportSeed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, ImportSeed(ctx, []byte(testSeed), st))
	// applying twice must not duplicate rows
	require.NoError(t, ImportSeed(ctx, []byte(testSeed), st))

	alice, err := st.GetUser(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, "https://example.com/a.png", alice.Avatar)

	convs, err := st.Conversations(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []model.Conversation{{ID: "c1", PartnerID: "2", UnreadCount: 2}}, convs)

	groups, err := st.Groups(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []model.Group{{ID: "g1", Name: "Team", UnreadCount: 3}}, groups)

	groups, err = st.Groups(ctx, "2")
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestImportSeedErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	assert.Error(t, ImportSeed(ctx, []byte("users: [oops"), st))
	assert.ErrorIs(t, ImportSeed(ctx, []byte("users:\n  - name: nobody\n"), st), model.ErrUserIDEmpty)
	assert.Error(t, LoadSeed(ctx, filepath.Join(t.TempDir(), "missing.yaml"), st))
}

func TestExportSeed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o600))
	require.NoError(t, LoadSeed(ctx, path, st))

	data, err := ExportSeed(ctx, st)
	require.NoError(t, err)

	var seed Seed
	require.NoError(t, yaml.Unmarshal(data, &seed))
	require.Len(t, seed.Users, 2)
	assert.Equal(t, "1", seed.Users[0].ID)
	assert.Equal(t, "Alice", seed.Users[0].Name)
	assert.Len(t, seed.Users[0].Conversations, 1)
	assert.Len(t, seed.Users[0].Groups, 1)
	assert.Empty(t, seed.Users[1].Conversations)

	// exported data re-imports into an empty store
	fresh := newTestStore(t)
	require.NoError(t, ImportSeed(ctx, data, fresh))
	groups, err := fresh.Groups(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 3, groups[0].UnreadCount)
}
