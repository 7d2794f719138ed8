package service

import (
	"context"
	"sort"
	"sync"

	"github.com/bigkaa/printlink/internal/domain/model"
	"github.com/bigkaa/printlink/internal/repository"
)

// fakeStore — in-memory реализация Store для тестов сервисного слоя.
// Повторяет семантику PostgreSQL-хранилища: условные переходы статусов,
// атомарный инкремент счётчика, ErrNotFound.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	docs     map[string]*model.Document
	views    []*model.JobView
	analyses map[string][]*model.DocumentAnalysis

	// failSubmit имитирует отказ БД при создании задания
	failSubmit bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]*model.Job),
		docs:     make(map[string]*model.Document),
		analyses: make(map[string][]*model.DocumentAnalysis),
	}
}

func (f *fakeStore) SubmitJob(_ context.Context, job *model.Job, doc *model.Document, analysis *model.DocumentAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSubmit {
		return repository.ErrConflict
	}

	jobCopy := *job
	f.jobs[job.ID] = &jobCopy
	docCopy := *doc
	f.docs[doc.JobID] = &docCopy
	if analysis != nil {
		aCopy := *analysis
		f.analyses[analysis.JobID] = append(f.analyses[analysis.JobID], &aCopy)
	}
	return nil
}

func (f *fakeStore) JobByID(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

func (f *fakeStore) ListJobsByUser(_ context.Context, userID string) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []*model.Job
	for _, j := range f.jobs {
		if j.UserID == userID {
			jobCopy := *j
			jobs = append(jobs, &jobCopy)
		}
	}
	sortJobsBySubmitted(jobs)
	return jobs, nil
}

func (f *fakeStore) ListAllJobs(_ context.Context) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []*model.Job
	for _, j := range f.jobs {
		jobCopy := *j
		jobs = append(jobs, &jobCopy)
	}
	sortJobsBySubmitted(jobs)
	return jobs, nil
}

func (f *fakeStore) ListLiveJobs(_ context.Context) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var jobs []*model.Job
	for _, j := range f.jobs {
		if j.Status == model.StatusPending || j.Status == model.StatusReleased {
			jobCopy := *j
			jobs = append(jobs, &jobCopy)
		}
	}
	return jobs, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id string, from []model.JobStatus, to model.JobStatus, fields repository.StatusFields) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return false, nil
	}

	matched := false
	for _, s := range from {
		if job.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	job.Status = to
	if fields.ReleasedAt != nil {
		job.ReleasedAt = fields.ReleasedAt
	}
	if fields.CompletedAt != nil {
		job.CompletedAt = fields.CompletedAt
	}
	if fields.DeletedAt != nil {
		job.DeletedAt = fields.DeletedAt
	}
	if fields.PrinterID != nil {
		job.PrinterID = fields.PrinterID
	}
	if fields.ReleasedBy != nil {
		job.ReleasedBy = fields.ReleasedBy
	}
	return true, nil
}

func (f *fakeStore) CountJobsByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := make(map[model.JobStatus]int)
	for _, j := range f.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (f *fakeStore) RecordView(_ context.Context, view *model.JobView) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[view.JobID]
	if !ok {
		return 0, repository.ErrNotFound
	}

	viewCopy := *view
	f.views = append(f.views, &viewCopy)

	job.ViewCount++
	if job.FirstViewedAt == nil {
		t := view.ViewedAt
		job.FirstViewedAt = &t
	}
	return job.ViewCount, nil
}

func (f *fakeStore) DocumentByJobID(_ context.Context, jobID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, ok := f.docs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	docCopy := *doc
	return &docCopy, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, jobID)
	return nil
}

func (f *fakeStore) AnalysesByJobID(_ context.Context, jobID string) ([]*model.DocumentAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.DocumentAnalysis(nil), f.analyses[jobID]...), nil
}

// viewsForJob возвращает записи аудита задания.
func (f *fakeStore) viewsForJob(jobID string) []*model.JobView {
	f.mu.Lock()
	defer f.mu.Unlock()

	var views []*model.JobView
	for _, v := range f.views {
		if v.JobID == jobID {
			views = append(views, v)
		}
	}
	return views
}

func sortJobsBySubmitted(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
}
