// Package memory stores issue datasets in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// DatasetStore keeps encoded datasets keyed by reference and returns pseudo URIs.
type DatasetStore struct {
	mu    sync.RWMutex
	data  map[harvest.DatasetRef][]byte
	saves int
}

// NewDatasetStore creates a new in-memory dataset store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{data: make(map[harvest.DatasetRef][]byte)}
}

// Load returns a fresh copy of the stored dataset.
func (s *DatasetStore) Load(_ context.Context, ref harvest.DatasetRef) (harvest.IssueDataset, bool, error) {
	s.mu.RLock()
	raw, ok := s.data[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	ds, err := harvest.DecodeDataset(raw)
	if err != nil {
		return nil, false, err
	}
	return ds, true, nil
}

// Save stores an encoded copy of ds so later mutation by the caller has no effect.
func (s *DatasetStore) Save(_ context.Context, ref harvest.DatasetRef, ds harvest.IssueDataset) (string, error) {
	raw, err := harvest.EncodeDataset(ds)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = raw
	s.saves++
	return fmt.Sprintf("memory://%s", ref), nil
}

// Put seeds a dataset without counting it as a save.
func (s *DatasetStore) Put(ref harvest.DatasetRef, ds harvest.IssueDataset) error {
	raw, err := harvest.EncodeDataset(ds)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = raw
	return nil
}

// Saves reports how many times Save succeeded.
func (s *DatasetStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
