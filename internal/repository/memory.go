package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zirpo/pm-backend/internal/model"
)

// MemoryStore 进程内存储，用于 store.driver=memory 和单元测试。
// 所有进出边界的 plan 都做深拷贝。
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	projects map[int64]*model.Project
	docs     map[int64][]model.Document
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		projects: make(map[int64]*model.Project),
		docs:     make(map[int64][]model.Document),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, name string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := &model.Project{
		ID:        s.nextID,
		Name:      name,
		Plan:      model.DefaultPlan(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.projects[p.ID] = p
	return copyProject(p)
}

func (s *MemoryStore) Load(_ context.Context, id int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyProject(p)
}

func (s *MemoryStore) Save(ctx context.Context, id int64, plan model.Plan, expectedVersion int64) (*model.Project, error) {
	stored, err := plan.Clone()
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("encode plan: plan is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, model.ErrConflict
	}

	// 整体替换，旧对象不再被修改
	next := &model.Project{
		ID:        p.ID,
		Name:      p.Name,
		Plan:      stored,
		Version:   p.Version + 1,
		CreatedAt: p.CreatedAt,
		UpdatedAt: s.now(),
	}
	s.projects[id] = next
	return copyProject(next)
}

func (s *MemoryStore) List(_ context.Context) ([]model.ProjectSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ProjectSummary, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, model.ProjectSummary{ID: p.ID, Name: p.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddDocument(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[doc.ProjectID]; !ok {
		return model.ErrNotFound
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.SizeBytes = int64(len(doc.Content))
	doc.UploadedAt = s.now()
	s.docs[doc.ProjectID] = append(s.docs[doc.ProjectID], *doc)
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, projectID int64) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.docs[projectID]
	out := make([]model.Document, len(docs))
	copy(out, docs)
	return out, nil
}

func copyProject(p *model.Project) (*model.Project, error) {
	plan, err := p.Plan.Clone()
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.Plan = plan
	return &cp, nil
}
