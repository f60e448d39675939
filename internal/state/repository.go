package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trend-oracle/internal/domain"
	"trend-oracle/internal/storage"
)

// Key is the fixed storage key of the oracle state.
const Key = "oracle/state"

// Repository persists the singleton OracleState in a key-value store.
type Repository struct {
	kv storage.KV
}

// NewRepository wires a KV store into a Repository.
func NewRepository(kv storage.KV) *Repository {
	return &Repository{kv: kv}
}

// Load reads the current state. It returns domain.ErrNotInitialized when the
// oracle has never been initialised.
func (r *Repository) Load(ctx context.Context) (domain.OracleState, error) {
	raw, err := r.kv.Get(ctx, Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.OracleState{}, domain.ErrNotInitialized
		}
		return domain.OracleState{}, fmt.Errorf("load oracle state: %w", err)
	}
	return decode(raw)
}

// Create persists the initial state, failing with domain.ErrAlreadyInitialized
// if a state already exists.
func (r *Repository) Create(ctx context.Context) (domain.OracleState, error) {
	initial := Initialize()
	raw, err := encode(initial)
	if err != nil {
		return domain.OracleState{}, err
	}
	if err := r.kv.Create(ctx, Key, raw); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return domain.OracleState{}, domain.ErrAlreadyInitialized
		}
		return domain.OracleState{}, fmt.Errorf("create oracle state: %w", err)
	}
	return initial, nil
}

// Save overwrites the persisted state in a single write.
func (r *Repository) Save(ctx context.Context, s domain.OracleState) error {
	raw, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, Key, raw); err != nil {
		return fmt.Errorf("save oracle state: %w", err)
	}
	return nil
}

func encode(s domain.OracleState) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode oracle state: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (domain.OracleState, error) {
	var s domain.OracleState
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.OracleState{}, fmt.Errorf("decode oracle state: %w", err)
	}
	return s, nil
}
