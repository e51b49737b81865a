package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CompanyStorage implements interfaces.CompanyStorage for Badger
type CompanyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCompanyStorage creates a new CompanyStorage instance
func NewCompanyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CompanyStorage {
	return &CompanyStorage{db: db, logger: logger}
}

func (s *CompanyStorage) SaveCompany(ctx context.Context, company *models.Company) error {
	if company.ID == "" {
		return fmt.Errorf("company ID is required")
	}
	company.UpdatedAt = time.Now()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = company.UpdatedAt
	}
	if err := s.db.Store().Upsert(company.ID, company); err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func (s *CompanyStorage) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	if err := s.db.Store().Get(id, &company); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

func (s *CompanyStorage) GetCompanyByName(ctx context.Context, name string) (*models.Company, error) {
	var companies []models.Company
	if err := s.db.Store().Find(&companies, badgerhold.Where("Name").Eq(name).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get company by name: %w", err)
	}
	if len(companies) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &companies[0], nil
}

func (s *CompanyStorage) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	var companies []models.Company
	if err := s.db.Store().Find(&companies, nil); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}

	result := make([]*models.Company, len(companies))
	for i := range companies {
		result[i] = &companies[i]
	}
	return result, nil
}

// JobStorage implements interfaces.JobStorage for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) FindByExternalID(ctx context.Context, externalID, source string) (*models.Job, error) {
	if externalID == "" {
		return nil, interfaces.ErrNotFound
	}

	var jobs []models.Job
	query := badgerhold.Where("ExternalJobID").Eq(externalID).And("Source").Eq(source).Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find job by external id: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

func (s *JobStorage) ListAnalyzed(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("AnalysisCompleted").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list analyzed jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListByState(ctx context.Context, state models.AnalysisState) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("AnalysisState").Eq(state)); err != nil {
		return nil, fmt.Errorf("failed to list jobs by state: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
