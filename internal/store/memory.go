package store

import (
	"sort"
	"sync"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/util"
)

// InMemoryStore implements Store and JobRepo with in-process maps. It backs
// unit tests and local experimentation; data does not survive a restart.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	patients      map[string]models.Patient
	simulations   map[string]models.Simulation
	budgets       map[string]models.Budget
	clinics       map[string]string // gateway instance -> clinic id
	jobs          map[string]Job
}

// Compile-time interface checks.
var (
	_ Store   = (*InMemoryStore)(nil)
	_ JobRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		patients:      make(map[string]models.Patient),
		simulations:   make(map[string]models.Simulation),
		budgets:       make(map[string]models.Budget),
		clinics:       make(map[string]string),
		jobs:          make(map[string]Job),
	}
}

// MapClinicInstance registers a gateway instance to clinic id mapping.
func (s *InMemoryStore) MapClinicInstance(instance, clinicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinics[instance] = clinicID
}

func (s *InMemoryStore) FindActiveConversationByPhone(phone string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *models.Conversation
	for _, c := range s.conversations {
		if c.PhoneNumber != phone || c.State.IsTerminal() {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			cc := c
			newest = &cc
		}
	}
	return newest, nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *InMemoryStore) UpdateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *InMemoryStore) TouchConversation(id string, lastMessageAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	c.LastMessageAt = lastMessageAt
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) ListConversations(limit int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) FindConversationsStuckSince(states []models.ConversationState, before time.Time) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[models.ConversationState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var out []models.Conversation
	for _, c := range s.conversations {
		if wanted[c.State] && c.UpdatedAt.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *InMemoryStore) ListMessages(conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) HasInboundProviderMessageID(conversationID, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.Direction == models.DirectionInbound && m.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) CreatePatient(p models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

// CountPatients returns the number of patient rows. Test helper.
func (s *InMemoryStore) CountPatients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

func (s *InMemoryStore) CreateSimulation(sim models.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulations[sim.ID] = sim
	return nil
}

// CountSimulations returns the number of simulation rows. Test helper.
func (s *InMemoryStore) CountSimulations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.simulations)
}

// ListSimulations returns all simulation rows. Test helper.
func (s *InMemoryStore) ListSimulations() []models.Simulation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Simulation, 0, len(s.simulations))
	for _, sim := range s.simulations {
		out = append(out, sim)
	}
	return out
}

func (s *InMemoryStore) UpdateSimulation(sim models.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulations[sim.ID] = sim
	return nil
}

func (s *InMemoryStore) GetSimulation(id string) (*models.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, ok := s.simulations[id]
	if !ok {
		return nil, nil
	}
	return &sim, nil
}

func (s *InMemoryStore) CreateBudget(b models.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[b.ID] = b
	return nil
}

// ListBudgets returns all budget rows. Test helper.
func (s *InMemoryStore) ListBudgets() []models.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	return out
}

func (s *InMemoryStore) GetClinicIDByInstance(instance string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clinics[instance], nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		// Only queued and running jobs block a re-enqueue; a permanently
		// failed job must not swallow a fresh attempt with the same key.
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && (j.Status == JobStatusQueued || j.Status == JobStatusRunning) {
				return j.ID, nil
			}
		}
	}

	now := time.Now()
	id := util.GenerateRandomID("job_", 32)
	s.jobs[id] = Job{
		ID:          id,
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = JobStatusRunning
		due[i].LockedAt = timePtr(now)
		due[i].UpdatedAt = now
		s.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusDone
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusCanceled
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}
