package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

type memorySource struct {
	mu          sync.Mutex
	files       map[string][]byte
	deleted     []string
	quarantined []string
	openErr     error
}

func newMemorySource(files map[string]string) *memorySource {
	s := &memorySource{files: map[string][]byte{}}
	for name, content := range files {
		s.files[name] = []byte(content)
	}
	return s
}

func (s *memorySource) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memorySource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.files[name]
	if !ok {
		return nil, common.ErrNotFound(name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memorySource) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *memorySource) Quarantine(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
	s.quarantined = append(s.quarantined, name)
	return nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	batches []*entity.Batch
	failOn  map[int]bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, batch *entity.Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[batch.Index] {
		return common.ErrTransient("publish", errors.New("broker unavailable"))
	}
	d.batches = append(d.batches, batch)
	return nil
}

func (d *recordingDispatcher) records() []entity.IntakeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []entity.IntakeRecord
	for _, b := range d.batches {
		out = append(out, b.Records...)
	}
	return out
}

type memoryMetrics struct {
	mu      sync.Mutex
	metrics []entity.InboundMetric
}

func (m *memoryMetrics) Insert(ctx context.Context, metric *entity.InboundMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, *metric)
	return nil
}

type memoryScreening struct {
	services map[string]types.ScreeningService
	err      error
	calls    int
}

func (r *memoryScreening) ByWorkflowCode(ctx context.Context, code string) (*types.ScreeningService, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	svc, ok := r.services[code]
	if !ok {
		return nil, nil
	}
	return &svc, nil
}

type memoryScreeningCache struct {
	entries map[string]types.ScreeningService
}

func (c *memoryScreeningCache) Get(ctx context.Context, code string) (types.ScreeningService, bool, error) {
	svc, ok := c.entries[code]
	return svc, ok, nil
}

func (c *memoryScreeningCache) Set(ctx context.Context, code string, svc types.ScreeningService) error {
	c.entries[code] = svc
	return nil
}
