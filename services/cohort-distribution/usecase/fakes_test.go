package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

type memoryParticipants struct {
	mu     sync.Mutex
	rows   map[string]*entity.ParticipantManagement
	nextID int64
	err    error

	// lockHeld, when set, is sampled on every flag write
	lockHeld       func() bool
	unlockedWrites int
}

func newMemoryParticipants() *memoryParticipants {
	return &memoryParticipants{rows: map[string]*entity.ParticipantManagement{}}
}

func participantKey(key types.IdentityKey, screeningID string) string {
	return screeningID + ":" + key.String()
}

func (m *memoryParticipants) UpsertManagement(_ context.Context, pm *entity.ParticipantManagement) (*entity.ParticipantManagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	k := participantKey(pm.IdentityKey, pm.ScreeningID)
	stored, ok := m.rows[k]
	if !ok {
		m.nextID++
		stored = &entity.ParticipantManagement{ParticipantID: m.nextID, IdentityKey: pm.IdentityKey, ScreeningID: pm.ScreeningID}
		m.rows[k] = stored
	}
	stored.RecordType = pm.RecordType
	stored.EligibilityFlag = pm.EligibilityFlag
	stored.ReasonForRemoval = pm.ReasonForRemoval
	stored.ReasonForRemovalFrom = pm.ReasonForRemovalFrom
	if pm.BusinessRuleVersion != "" {
		stored.BusinessRuleVersion = pm.BusinessRuleVersion
	}
	copied := *stored
	return &copied, nil
}

func (m *memoryParticipants) SetExceptionFlag(_ context.Context, key types.IdentityKey, screeningID string, flag types.ExceptionFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockHeld != nil && !m.lockHeld() {
		m.unlockedWrites++
	}
	stored, ok := m.rows[participantKey(key, screeningID)]
	if !ok {
		return nil
	}
	if stored.ExceptionFlag == types.ExceptionFlagFatal && flag == types.ExceptionFlagTransient {
		return nil
	}
	stored.ExceptionFlag = flag
	return nil
}

func (m *memoryParticipants) clear(key types.IdentityKey, screeningID string, clearFatal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[participantKey(key, screeningID)]
	if !ok {
		return
	}
	if stored.ExceptionFlag == types.ExceptionFlagTransient || clearFatal {
		stored.ExceptionFlag = types.ExceptionFlagNone
	}
}

func (m *memoryParticipants) flag(key types.IdentityKey, screeningID string) types.ExceptionFlag {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.rows[participantKey(key, screeningID)]; ok {
		return stored.ExceptionFlag
	}
	return types.ExceptionFlagNone
}

func (m *memoryParticipants) get(key types.IdentityKey, screeningID string) entity.ParticipantManagement {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.rows[participantKey(key, screeningID)]; ok {
		return *stored
	}
	return entity.ParticipantManagement{}
}

func (m *memoryParticipants) seed(key types.IdentityKey, screeningID string, flag types.ExceptionFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.rows[participantKey(key, screeningID)] = &entity.ParticipantManagement{
		ParticipantID: m.nextID, IdentityKey: key, ScreeningID: screeningID, ExceptionFlag: flag,
	}
}

type memoryDemographics struct {
	mu      sync.Mutex
	records map[types.IdentityKey]entity.Demographic
	err     error
}

func (m *memoryDemographics) Get(_ context.Context, key types.IdentityKey) (*entity.Demographic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

type memoryDistributions struct {
	mu           sync.Mutex
	rows         []entity.CohortDistribution
	participants *memoryParticipants
	err          error
}

func (m *memoryDistributions) Latest(_ context.Context, key types.IdentityKey, screeningID string) (*entity.CohortDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].IdentityKey == key && m.rows[i].ScreeningServiceID == screeningID {
			row := m.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (m *memoryDistributions) Commit(_ context.Context, row *entity.CohortDistribution, clearFatal bool) error {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	row.CohortDistributionID = int64(len(m.rows) + 1)
	row.RecordInsertedAt = time.Now()
	m.rows = append(m.rows, *row)
	m.mu.Unlock()

	m.participants.clear(row.IdentityKey, row.ScreeningServiceID, clearFatal)
	return nil
}

func (m *memoryDistributions) all() []entity.CohortDistribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.CohortDistribution(nil), m.rows...)
}

type stubAllocator struct {
	provider string
	err      error
}

func (a *stubAllocator) Allocate(_ context.Context, _ types.IdentityKey, _, _ string) (string, error) {
	return a.provider, a.err
}

type stubValidator struct {
	mu        sync.Mutex
	results   []types.RuleResult
	err       error
	existing  []*entity.CohortDistribution
	active    int32
	maxActive int32
}

func (v *stubValidator) Validate(_ context.Context, _, existing *entity.CohortDistribution, _ string) ([]types.RuleResult, error) {
	n := atomic.AddInt32(&v.active, 1)
	defer atomic.AddInt32(&v.active, -1)
	for {
		m := atomic.LoadInt32(&v.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&v.maxActive, m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.existing = append(v.existing, existing)
	return v.results, v.err
}

type recordingQueue struct {
	mu     sync.Mutex
	topics map[string][]entity.DistributionRequest
	err    error
}

func (q *recordingQueue) Enqueue(_ context.Context, req entity.DistributionRequest, topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.topics == nil {
		q.topics = map[string][]entity.DistributionRequest{}
	}
	q.topics[topic] = append(q.topics[topic], req)
	return nil
}

func (q *recordingQueue) on(topic string) []entity.DistributionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]entity.DistributionRequest(nil), q.topics[topic]...)
}

// trackingLocker reports whether any key lock is currently held
type trackingLocker struct {
	inner interface {
		Acquire(ctx context.Context, key string) (func(), error)
	}
	held atomic.Int32
}

func (l *trackingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	l.held.Add(1)
	return func() {
		l.held.Add(-1)
		unlock()
	}, nil
}

func (l *trackingLocker) isHeld() bool {
	return l.held.Load() > 0
}
