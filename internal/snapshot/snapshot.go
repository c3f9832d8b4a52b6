package snapshot

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/artifact"
	"github.com/pulserank/pulserank/internal/model"
)

// ErrNoSnapshot means no snapshot exists for the (brief, pool) key yet.
// Callers treat it as "compute now", not as a failure.
var ErrNoSnapshot = errors.New("no reward snapshot")

// Store persists reward snapshots as immutable artifacts. A brief's first
// reward-phase evaluation is frozen here; every later cycle replays the
// frozen allocation instead of rescoring. When duplicates exist the oldest
// sequence wins, so concurrent writers can race without destabilizing payouts.
type Store struct {
	artifacts *artifact.Store
}

// NewStore wraps an artifact store.
func NewStore(artifacts *artifact.Store) *Store {
	return &Store{artifacts: artifacts}
}

// Save persists a snapshot for (brief, pool). The stored payload is never
// mutated afterwards; sequence and creation time are owned by the artifact
// manifest and stamped onto the returned copy.
func (s *Store) Save(snap *model.RewardSnapshot) (*model.RewardSnapshot, error) {
	if s.Exists(snap.BriefID, snap.Pool) {
		// Harmless thanks to oldest-wins, but worth noticing.
		log.Warn().Str("brief", snap.BriefID).Str("pool", snap.Pool).
			Msg("snapshot already exists, new copy will never win")
	}
	entry, err := s.artifacts.PutJSON(artifact.FamilySnapshot, snap.Pool, snap.BriefID, snap)
	if err != nil {
		return nil, err
	}
	stamped := *snap
	stamped.Seq = entry.Seq
	stamped.CreatedAt = entry.CreatedAt
	log.Info().Str("brief", snap.BriefID).Str("pool", snap.Pool).
		Uint64("seq", entry.Seq).
		Int("records", len(snap.Records)).
		Float64("total_usd", snap.TotalUSD).
		Msg("reward snapshot frozen")
	return &stamped, nil
}

// Load returns the oldest snapshot for (brief, pool), or ErrNoSnapshot.
func (s *Store) Load(briefID, pool string) (*model.RewardSnapshot, error) {
	entry, err := s.artifacts.Oldest(artifact.FamilySnapshot, pool, briefID)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var snap model.RewardSnapshot
	if err := s.artifacts.ReadJSON(entry, &snap); err != nil {
		return nil, err
	}
	snap.Seq = entry.Seq
	snap.CreatedAt = entry.CreatedAt
	return &snap, nil
}

// Exists reports whether any snapshot is stored for (brief, pool).
func (s *Store) Exists(briefID, pool string) bool {
	_, err := s.artifacts.Oldest(artifact.FamilySnapshot, pool, briefID)
	return err == nil
}
