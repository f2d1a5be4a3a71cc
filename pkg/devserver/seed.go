package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// UserSeed is one user in the seed file, with that user's view of their
// conversations and groups.
type UserSeed struct {
	model.User    `yaml:",inline"`
	Conversations []model.Conversation `yaml:"conversations,omitempty"`
	Groups        []model.Group        `yaml:"groups,omitempty"`
}

// Seed is the top-level YAML seed document.
type Seed struct {
	Users []UserSeed `yaml:"users"`
}

// LoadSeed reads a seed file and applies it to the store.
func LoadSeed(ctx context.Context, path string, st *Store) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return ImportSeed(ctx, data, st)
}

// ImportSeed parses YAML data and upserts every user, conversation and group.
// Existing rows are updated in place.
func ImportSeed(ctx context.Context, data []byte, st *Store) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}

	for _, u := range seed.Users {
		if err := st.UpsertUser(ctx, u.User); err != nil {
			return err
		}
	}
	// second pass so partner rows exist regardless of order in the file
	rows := 0
	for _, u := range seed.Users {
		for _, c := range u.Conversations {
			if err := st.SetConversation(ctx, u.ID, c); err != nil {
				return err
			}
			rows++
		}
		for _, g := range u.Groups {
			if err := st.SetGroup(ctx, u.ID, g); err != nil {
				return err
			}
			rows++
		}
	}

	slog.Info("imported seed", "users", len(seed.Users), "rows", rows)
	return nil
}

// ExportSeed dumps the store in seed format.
func ExportSeed(ctx context.Context, st *Store) ([]byte, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	seed := Seed{Users: make([]UserSeed, 0, len(users))}
	for _, u := range users {
		convs, err := st.Conversations(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		groups, err := st.Groups(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		seed.Users = append(seed.Users, UserSeed{User: u, Conversations: convs, Groups: groups})
	}
	return yaml.Marshal(&seed)
}
