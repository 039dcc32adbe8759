// Package credentials persists provider secrets keyed by credential group.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/kvstore"
	"github.com/snarg/meetscribe/internal/registry"
)

// ErrEmptyGroup is returned when a credential is saved without a group key.
var ErrEmptyGroup = errors.New("credential group is required")

const keySuffix = "_api_key"

// Store maps credential groups to secrets on top of a kvstore.Store.
// Several model ids may share one group through the override table.
type Store struct {
	kv     kvstore.Store
	groups map[string]string
	log    zerolog.Logger
}

// New creates a credential store. groups is the model id -> group override
// table; ids absent from it use the id itself as the group.
func New(kv kvstore.Store, groups map[string]string, log zerolog.Logger) *Store {
	g := make(map[string]string, len(groups))
	for id, group := range groups {
		g[id] = group
	}
	return &Store{kv: kv, groups: g, log: log}
}

// GroupFor resolves the credential group for a model id.
func (s *Store) GroupFor(modelID string) string {
	if g, ok := s.groups[modelID]; ok {
		return g
	}
	return modelID
}

// Set stores secret under group, overwriting any previous value.
// An empty secret clears the credential.
func (s *Store) Set(ctx context.Context, group, secret string) error {
	group = strings.TrimSpace(group)
	if group == "" {
		return ErrEmptyGroup
	}
	if err := s.kv.Set(ctx, group+keySuffix, strings.TrimSpace(secret)); err != nil {
		return fmt.Errorf("save credential for %s: %w", group, err)
	}
	s.log.Info().Str("group", group).Bool("cleared", strings.TrimSpace(secret) == "").Msg("credential saved")
	return nil
}

// Get returns the secret for group. ok is false when nothing is stored.
func (s *Store) Get(ctx context.Context, group string) (secret string, ok bool, err error) {
	v, err := s.kv.Get(ctx, group+keySuffix)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load credential for %s: %w", group, err)
	}
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// ForModel returns the secret for the model's credential group.
func (s *Store) ForModel(ctx context.Context, m registry.Model) (string, bool, error) {
	return s.Get(ctx, s.GroupFor(m.ID))
}

// IsConfigured reports whether m can be dispatched credential-wise: always
// true for models that need no credential, otherwise true iff the model's
// group has a stored secret. Backend read errors count as not configured.
func (s *Store) IsConfigured(ctx context.Context, m registry.Model) bool {
	if !m.RequiresCredential {
		return true
	}
	_, ok, err := s.ForModel(ctx, m)
	if err != nil {
		s.log.Warn().Err(err).Str("model", m.ID).Msg("credential lookup failed")
		return false
	}
	return ok
}
