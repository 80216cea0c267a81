package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	"github.com/refactory-tech/refactory/internal/fileutil"
)

// maxRequestFileSize bounds approval request files (1MB).
const maxRequestFileSize = 1 << 20

// FileStore persists approval requests as JSON files, one per request. It is
// the shared medium between a waiting gate and the operator-facing commands
// that decide requests, possibly from another process.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a file-backed request store under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create approval store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save persists a request.
func (s *FileStore) Save(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(toDTO(req), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}
	if err := fileutil.AtomicWriteFile(s.requestPath(req.ID()), data, 0600); err != nil {
		return fmt.Errorf("failed to write approval request: %w", err)
	}
	return nil
}

// FindByID retrieves a request.
func (s *FileStore) FindByID(ctx context.Context, id string) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readRequest(s.requestPath(id))
}

// FindActiveByUnit returns the pending request for a unit, or
// ErrRequestNotFound when none is outstanding.
func (s *FileStore) FindActiveByUnit(ctx context.Context, unitID string) (*Request, error) {
	reqs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if req.UnitID() == unitID && req.Status() == StatusPending {
			return req, nil
		}
	}
	return nil, ErrRequestNotFound
}

// List returns all stored requests ordered by request time.
func (s *FileStore) List(ctx context.Context) ([]*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read approval store directory: %w", err)
	}

	reqs := make([]*Request, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		req, err := s.readRequest(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].RequestedAt().Before(reqs[j].RequestedAt()) })
	return reqs, nil
}

func (s *FileStore) requestPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) readRequest(path string) (*Request, error) {
	data, err := fileutil.ReadFileLimited(path, maxRequestFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to read approval request: %w", err)
	}

	var dto requestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval request: %w", err)
	}
	return fromDTO(&dto)
}

// requestDTO is the persisted form of an approval request.
type requestDTO struct {
	ID          string        `json:"id"`
	UnitID      string        `json:"unit_id"`
	PlanID      string        `json:"plan_id"`
	Risk        riskScoreDTO  `json:"risk"`
	Description string        `json:"description,omitempty"`
	Status      string        `json:"status"`
	RequestedAt string        `json:"requested_at"`
	Deadline    string        `json:"deadline"`
	DecidedAt   *string       `json:"decided_at,omitempty"`
	DecidedBy   string        `json:"decided_by,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

type riskScoreDTO struct {
	Value                   float64         `json:"value"`
	Level                   string          `json:"level"`
	Factors                 []riskFactorDTO `json:"factors,omitempty"`
	RequiresManualApproval  bool            `json:"requires_manual_approval"`
	RequiresExtendedTesting bool            `json:"requires_extended_testing"`
}

type riskFactorDTO struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Description  string  `json:"description,omitempty"`
}

func toDTO(req *Request) *requestDTO {
	dto := &requestDTO{
		ID:          req.id,
		UnitID:      req.unitID,
		PlanID:      string(req.planID),
		Description: req.description,
		Status:      string(req.status),
		RequestedAt: req.requestedAt.UTC().Format(time.RFC3339Nano),
		Deadline:    req.deadline.UTC().Format(time.RFC3339Nano),
		DecidedBy:   req.decidedBy,
		Reason:      req.reason,
	}
	dto.Risk = riskScoreDTO{
		Value:                   req.risk.Value,
		Level:                   string(req.risk.Level),
		RequiresManualApproval:  req.risk.RequiresManualApproval,
		RequiresExtendedTesting: req.risk.RequiresExtendedTesting,
	}
	for _, f := range req.risk.Factors {
		dto.Risk.Factors = append(dto.Risk.Factors, riskFactorDTO{
			Name:         f.Name,
			Contribution: f.Contribution,
			Description:  f.Description,
		})
	}
	if req.decidedAt != nil {
		ts := req.decidedAt.UTC().Format(time.RFC3339Nano)
		dto.DecidedAt = &ts
	}
	return dto
}

func fromDTO(dto *requestDTO) (*Request, error) {
	requestedAt, err := time.Parse(time.RFC3339Nano, dto.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid requested_at: %w", err)
	}
	deadline, err := time.Parse(time.RFC3339Nano, dto.Deadline)
	if err != nil {
		return nil, fmt.Errorf("invalid deadline: %w", err)
	}

	req := &Request{
		id:          dto.ID,
		unitID:      dto.UnitID,
		planID:      transform.PlanID(dto.PlanID),
		description: dto.Description,
		status:      Status(dto.Status),
		requestedAt: requestedAt,
		deadline:    deadline,
		decidedBy:   dto.DecidedBy,
		reason:      dto.Reason,
	}
	req.risk = transform.RiskScore{
		Value:                   dto.Risk.Value,
		Level:                   transform.RiskLevel(dto.Risk.Level),
		RequiresManualApproval:  dto.Risk.RequiresManualApproval,
		RequiresExtendedTesting: dto.Risk.RequiresExtendedTesting,
	}
	for _, f := range dto.Risk.Factors {
		req.risk.Factors = append(req.risk.Factors, transform.RiskFactor{
			Name:         f.Name,
			Contribution: f.Contribution,
			Description:  f.Description,
		})
	}
	if dto.DecidedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *dto.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid decided_at: %w", err)
		}
		req.decidedAt = &t
	}
	return req, nil
}
