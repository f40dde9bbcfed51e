package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

type memoryDemographics struct {
	mu      sync.Mutex
	records map[types.IdentityKey]entity.Demographic
	failOn  map[types.IdentityKey]bool
}

func newMemoryDemographics() *memoryDemographics {
	return &memoryDemographics{
		records: map[types.IdentityKey]entity.Demographic{},
		failOn:  map[types.IdentityKey]bool{},
	}
}

func (m *memoryDemographics) Upsert(ctx context.Context, key types.IdentityKey, fields entity.Demographic) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.failOn[key] {
		return false, errors.New("demographic service unavailable")
	}
	m.records[key] = fields
	return true, nil
}

func (m *memoryDemographics) Get(_ context.Context, key types.IdentityKey) (*entity.Demographic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memoryDemographics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type recordingForwarder struct {
	mu       sync.Mutex
	requests []entity.DistributionRequest
	failOn   map[types.IdentityKey]bool
}

func (f *recordingForwarder) Forward(ctx context.Context, req entity.DistributionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failOn[req.IdentityKey] {
		return errors.New("broker unavailable")
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *recordingForwarder) keys() []types.IdentityKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]types.IdentityKey, 0, len(f.requests))
	for _, r := range f.requests {
		keys = append(keys, r.IdentityKey)
	}
	return keys
}
