package job

import (
	"context"
	"sort"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Verify MemoryStore satisfies the Store interface.
var _ Store = (*MemoryStore)(nil)

type memoryJob struct {
	detail  *JobDetail
	blocked bool
}

// MemoryStore keeps everything in process memory. State is lost on restart.
type MemoryStore struct {
	mu           sync.Mutex
	jobs         map[JobKey]*memoryJob
	triggers     map[TriggerKey]*Trigger
	pausedGroups map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[JobKey]*memoryJob),
		triggers:     make(map[TriggerKey]*Trigger),
		pausedGroups: make(map[string]struct{}),
	}
}

func (m *MemoryStore) StoreJob(_ context.Context, job *JobDetail, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.jobs[job.Key]; ok {
		if !replace {
			return ErrObjectAlreadyExists
		}
		old.detail = job.Clone()
		return nil
	}
	m.jobs[job.Key] = &memoryJob{detail: job.Clone()}
	return nil
}

func (m *MemoryStore) RemoveJob(_ context.Context, key JobKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tk, t := range m.triggers {
		if t.JobKey == key {
			delete(m.triggers, tk)
		}
	}
	if _, ok := m.jobs[key]; !ok {
		return false, nil
	}
	delete(m.jobs, key)
	return true, nil
}

func (m *MemoryStore) RetrieveJob(_ context.Context, key JobKey) (*JobDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.detail.Clone(), nil
}

func (m *MemoryStore) CheckJobExists(_ context.Context, key JobKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[key]
	return ok, nil
}

func (m *MemoryStore) StoreTrigger(_ context.Context, trigger *Trigger, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[trigger.Key]; ok && !replace {
		return ErrObjectAlreadyExists
	}
	return m.storeTrigger(trigger)
}

func (m *MemoryStore) storeTrigger(trigger *Trigger) error {
	j, ok := m.jobs[trigger.JobKey]
	if !ok {
		return ErrJobNotFound
	}
	t := trigger.Clone()
	t.FireInstanceID = ""
	_, paused := m.pausedGroups[t.Key.Group]
	t.State = InitialState(paused, j.blocked)
	m.triggers[t.Key] = t
	return nil
}

// InitialState is the state of a newly stored trigger.
func InitialState(paused, blocked bool) TriggerState {
	switch {
	case paused && blocked:
		return StatePausedBlocked
	case paused:
		return StatePaused
	case blocked:
		return StateBlocked
	}
	return StateNormal
}

func (m *MemoryStore) RemoveTrigger(_ context.Context, key TriggerKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeTrigger(key), nil
}

func (m *MemoryStore) removeTrigger(key TriggerKey) bool {
	t, ok := m.triggers[key]
	if !ok {
		return false
	}
	delete(m.triggers, key)
	if j, ok := m.jobs[t.JobKey]; ok && !j.detail.Durable && !m.hasTriggers(t.JobKey) {
		delete(m.jobs, t.JobKey)
	}
	return true
}

func (m *MemoryStore) hasTriggers(key JobKey) bool {
	for _, t := range m.triggers {
		if t.JobKey == key {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ReplaceTrigger(_ context.Context, key TriggerKey, trigger *Trigger) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.triggers[key]
	if !ok {
		return false, nil
	}
	if old.JobKey != trigger.JobKey {
		return false, ErrJobNotFound
	}
	delete(m.triggers, key)
	if err := m.storeTrigger(trigger); err != nil {
		m.triggers[key] = old
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) RetrieveTrigger(_ context.Context, key TriggerKey) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[key]
	if !ok {
		return nil, ErrTriggerNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) TriggersOfJob(_ context.Context, key JobKey) ([]*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*Trigger
	for _, t := range m.triggers {
		if t.JobKey == key {
			list = append(list, t.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key.Name < list[j].Key.Name })
	return list, nil
}

func (m *MemoryStore) JobGroupNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{})
	for k := range m.jobs {
		set[k.Group] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *MemoryStore) JobKeys(_ context.Context, group string) ([]JobKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []JobKey
	for k := range m.jobs {
		if k.Group == group {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

func (m *MemoryStore) TriggerGroupNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{})
	for k := range m.triggers {
		set[k.Group] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *MemoryStore) TriggerKeys(_ context.Context, group string) ([]TriggerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []TriggerKey
	for k := range m.triggers {
		if k.Group == group {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

func (m *MemoryStore) TriggerState(_ context.Context, key TriggerKey) (TriggerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[key]
	if !ok {
		return StateNone, nil
	}
	return t.State, nil
}

func (m *MemoryStore) PauseTrigger(_ context.Context, key TriggerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[key]; ok {
		t.State = PausedState(t.State)
	}
	return nil
}

// PausedState 暂停后的状态,ERROR 也会被暂停以便恢复
func PausedState(s TriggerState) TriggerState {
	switch s {
	case StateComplete, StatePaused, StatePausedBlocked:
		return s
	case StateBlocked:
		return StatePausedBlocked
	}
	return StatePaused
}

func (m *MemoryStore) ResumeTrigger(_ context.Context, key TriggerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[key]; ok {
		m.resume(t)
	}
	return nil
}

func (m *MemoryStore) resume(t *Trigger) {
	if t.State != StatePaused && t.State != StatePausedBlocked {
		return
	}
	j := m.jobs[t.JobKey]
	t.State = ResumedState(t, j != nil && j.blocked)
}

// ResumedState is the state of a paused trigger once resumed.
func ResumedState(t *Trigger, blocked bool) TriggerState {
	if !t.MayFireAgain() {
		return StateComplete
	}
	if blocked {
		return StateBlocked
	}
	return StateNormal
}

func (m *MemoryStore) PauseTriggerGroup(_ context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pausedGroups[group] = struct{}{}
	for k, t := range m.triggers {
		if k.Group == group {
			t.State = PausedState(t.State)
		}
	}
	return nil
}

func (m *MemoryStore) ResumeTriggerGroup(_ context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pausedGroups, group)
	for k, t := range m.triggers {
		if k.Group == group {
			m.resume(t)
		}
	}
	return nil
}

func (m *MemoryStore) PausedTriggerGroups(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.pausedGroups), nil
}

func (m *MemoryStore) AcquireNextTriggers(_ context.Context, opts AcquireOptions) ([]*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Trigger
	for _, t := range m.triggers {
		if t.State != StateNormal || !t.MayFireAgain() {
			continue
		}
		if t.IsMisfired(opts.Now, opts.MisfireThreshold) {
			t.UpdateAfterMisfire(opts.Now)
			if !t.MayFireAgain() {
				m.removeTrigger(t.Key)
				continue
			}
		}
		if t.NextFireTime.After(opts.NoLaterThan) {
			continue
		}
		candidates = append(candidates, t)
	}
	sortByFireTime(candidates)

	acquired := make([]*Trigger, 0, opts.MaxCount)
	exclusive := make(map[JobKey]struct{})
	for _, t := range candidates {
		if len(acquired) >= opts.MaxCount {
			break
		}
		if len(acquired) > 0 && t.NextFireTime.After(acquired[0].NextFireTime.Add(opts.TimeWindow)) {
			break
		}
		j, ok := m.jobs[t.JobKey]
		if !ok {
			continue
		}
		if j.detail.DisallowConcurrent {
			if _, ok := exclusive[t.JobKey]; ok {
				continue
			}
			exclusive[t.JobKey] = struct{}{}
		}
		t.State = StateAcquired
		t.FireInstanceID = uuid.NewV4().String()
		acquired = append(acquired, t.Clone())
	}
	return acquired, nil
}

func sortByFireTime(list []*Trigger) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].NextFireTime.Equal(list[j].NextFireTime) {
			return list[i].NextFireTime.Before(list[j].NextFireTime)
		}
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].Key.String() < list[j].Key.String()
	})
}

func (m *MemoryStore) ReleaseAcquiredTrigger(_ context.Context, trigger *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[trigger.Key]; ok && t.State == StateAcquired &&
		t.FireInstanceID == trigger.FireInstanceID {
		t.State = StateNormal
		t.FireInstanceID = ""
	}
	return nil
}

func (m *MemoryStore) TriggersFired(_ context.Context, triggers []*Trigger, now time.Time) ([]*FiredBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*FiredBundle, len(triggers))
	for i, acquired := range triggers {
		t, ok := m.triggers[acquired.Key]
		if !ok || t.State != StateAcquired || t.FireInstanceID != acquired.FireInstanceID {
			continue
		}
		j, ok := m.jobs[t.JobKey]
		if !ok {
			delete(m.triggers, t.Key)
			continue
		}
		bundle := &FiredBundle{
			Job:               j.detail.Clone(),
			ScheduledFireTime: t.NextFireTime,
			FireTime:          now,
			PreviousFireTime:  t.PreviousFireTime,
		}
		t.Triggered()
		bundle.NextFireTime = t.NextFireTime
		t.State = StateNormal
		if !t.MayFireAgain() {
			t.State = StateComplete
		}
		if j.detail.DisallowConcurrent {
			t.State = StateBlocked
			j.blocked = true
			for _, sibling := range m.triggers {
				if sibling.JobKey != t.JobKey || sibling.Key == t.Key {
					continue
				}
				switch sibling.State {
				case StateNormal, StateAcquired:
					sibling.State = StateBlocked
				case StatePaused:
					sibling.State = StatePausedBlocked
				}
			}
		}
		bundle.Trigger = t.Clone()
		result[i] = bundle
	}
	return result, nil
}

func (m *MemoryStore) TriggeredJobComplete(_ context.Context, trigger *Trigger, job *JobDetail,
	instruction CompletedInstruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.DisallowConcurrent {
		if j, ok := m.jobs[job.Key]; ok {
			j.blocked = false
		}
		for _, t := range m.triggers {
			if t.JobKey != job.Key {
				continue
			}
			switch t.State {
			case StateBlocked:
				t.State = StateNormal
				if !t.MayFireAgain() {
					t.State = StateComplete
				}
			case StatePausedBlocked:
				t.State = StatePaused
			}
		}
	}
	t, ok := m.triggers[trigger.Key]
	if !ok || t.FireInstanceID != trigger.FireInstanceID {
		// 执行期间已被替换
		return nil
	}
	if instruction == InstructionSetTriggerError {
		t.State = StateError
		return nil
	}
	if !t.MayFireAgain() {
		m.removeTrigger(t.Key)
	}
	return nil
}

func (m *MemoryStore) RecoverState(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		j.blocked = false
	}
	for _, t := range m.triggers {
		switch t.State {
		case StateAcquired, StateBlocked:
			t.State = StateNormal
			t.FireInstanceID = ""
		case StatePausedBlocked:
			t.State = StatePaused
		}
	}
	return nil
}

func (m *MemoryStore) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[JobKey]*memoryJob)
	m.triggers = make(map[TriggerKey]*Trigger)
	m.pausedGroups = make(map[string]struct{})
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	list := make([]string, 0, len(set))
	for k := range set {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}
