// Package persistence stores transformation plans as JSON files so an
// interrupted run can be inspected and resumed across process restarts.
package persistence

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

// MaxPlanFileSize is the maximum allowed size for plan files (16MB). Plans
// embed full file contents, so the limit is generous but still bounded.
const MaxPlanFileSize = 16 << 20

// checkContext returns the context's error if it is already done.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// FilePlanRepository implements the orchestrator's plan repository on the
// local filesystem, one JSON file per plan.
type FilePlanRepository struct {
	basePath string
	mu       sync.RWMutex
}

// NewFilePlanRepository creates a file-based plan repository rooted at
// basePath.
func NewFilePlanRepository(basePath string) (*FilePlanRepository, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	return &FilePlanRepository{basePath: basePath}, nil
}

type planDTO struct {
	ID        string    `json:"id"`
	Codebase  string    `json:"codebase"`
	CreatedAt time.Time `json:"created_at"`
	Waves     []waveDTO `json:"waves"`
}

type waveDTO struct {
	ID            string     `json:"id"`
	Order         int        `json:"order"`
	Prerequisites []string   `json:"prerequisites,omitempty"`
	Disjoint      bool       `json:"disjoint"`
	Batches       []batchDTO `json:"batches"`
}

type batchDTO struct {
	ID         string                       `json:"id"`
	Order      int                          `json:"order"`
	Status     string                       `json:"status"`
	Files      []fileChangeDTO              `json:"files"`
	Risk       riskScoreDTO                 `json:"risk"`
	History    []transform.TransitionRecord `json:"history,omitempty"`
	Warnings   []warningDTO                 `json:"warnings,omitempty"`
	TestResult *testResultDTO               `json:"test_result,omitempty"`
	Approved   bool                         `json:"approved,omitempty"`
	ApprovedBy string                       `json:"approved_by,omitempty"`
	LastReason string                       `json:"last_reason,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

type fileChangeDTO struct {
	Path      string   `json:"path"`
	Kind      string   `json:"kind"`
	Language  string   `json:"language"`
	Before    []byte   `json:"before"`
	After     []byte   `json:"after"`
	DependsOn []string `json:"depends_on,omitempty"`
	Coverage  float64  `json:"coverage"`
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

type warningDTO struct {
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

type testResultDTO struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Coverage float64  `json:"coverage"`
}

// Save persists a plan, overwriting any previous version atomically.
func (r *FilePlanRepository) Save(ctx context.Context, plan *transform.TransformationPlan) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(toDTO(plan), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := fileutil.AtomicWriteFile(r.planFilePath(plan.ID()), data, 0600); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// FindByID loads a plan by its ID.
func (r *FilePlanRepository) FindByID(ctx context.Context, id transform.PlanID) (*transform.TransformationPlan, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := fileutil.ReadFileLimited(r.planFilePath(id), MaxPlanFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, transform.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var dto planDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return fromDTO(&dto), nil
}

// List returns all persisted plans, newest first.
func (r *FilePlanRepository) List(ctx context.Context) ([]*transform.TransformationPlan, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository directory: %w", err)
	}

	plans := make([]*transform.TransformationPlan, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		data, err := fileutil.ReadFileLimited(filepath.Join(r.basePath, entry.Name()), MaxPlanFileSize)
		if err != nil {
			continue
		}
		var dto planDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			continue
		}
		plans = append(plans, fromDTO(&dto))
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt().After(plans[j].CreatedAt())
	})
	return plans, nil
}

// Delete removes a persisted plan. Missing plans are not an error.
func (r *FilePlanRepository) Delete(ctx context.Context, id transform.PlanID) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.planFilePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete plan file: %w", err)
	}
	return nil
}

func (r *FilePlanRepository) planFilePath(id transform.PlanID) string {
	return filepath.Join(r.basePath, id.String()+".json")
}

func toDTO(plan *transform.TransformationPlan) *planDTO {
	dto := &planDTO{
		ID:        plan.ID().String(),
		Codebase:  plan.Codebase(),
		CreatedAt: plan.CreatedAt(),
		Waves:     make([]waveDTO, 0, len(plan.Waves())),
	}
	for _, wave := range plan.Waves() {
		wd := waveDTO{
			ID:       wave.ID().String(),
			Order:    wave.Order(),
			Disjoint: wave.Disjoint(),
			Batches:  make([]batchDTO, 0, len(wave.Batches())),
		}
		for _, prereq := range wave.Prerequisites() {
			wd.Prerequisites = append(wd.Prerequisites, prereq.String())
		}
		for _, batch := range wave.Batches() {
			wd.Batches = append(wd.Batches, batchToDTO(batch))
		}
		dto.Waves = append(dto.Waves, wd)
	}
	return dto
}

func batchToDTO(batch *transform.Batch) batchDTO {
	dto := batchDTO{
		ID:         batch.ID().String(),
		Order:      batch.Order(),
		Status:     string(batch.Status()),
		Files:      make([]fileChangeDTO, 0, len(batch.Files())),
		Risk:       riskToDTO(batch.Risk()),
		History:    batch.History(),
		Approved:   batch.ApprovedBy() != "",
		ApprovedBy: batch.ApprovedBy(),
		LastReason: batch.LastReason(),
		CreatedAt:  batch.CreatedAt(),
		UpdatedAt:  batch.UpdatedAt(),
	}
	for _, f := range batch.Files() {
		dto.Files = append(dto.Files, fileChangeDTO{
			Path:      f.Path,
			Kind:      string(f.Kind),
			Language:  string(f.Language),
			Before:    f.Before,
			After:     f.After,
			DependsOn: f.DependsOn,
			Coverage:  f.Coverage,
		})
	}
	for _, w := range batch.Warnings() {
		dto.Warnings = append(dto.Warnings, warningDTO{
			Kind:        string(w.Kind),
			Severity:    string(w.Severity),
			Description: w.Description,
			Location:    w.Location,
		})
	}
	if tr := batch.TestResult(); tr != nil {
		dto.TestResult = &testResultDTO{Passed: tr.Passed, Failures: tr.Failures, Coverage: tr.Coverage}
	}
	return dto
}

func riskToDTO(score transform.RiskScore) riskScoreDTO {
	dto := riskScoreDTO{
		Value:                   score.Value,
		Level:                   string(score.Level),
		RequiresManualApproval:  score.RequiresManualApproval,
		RequiresExtendedTesting: score.RequiresExtendedTesting,
	}
	for _, f := range score.Factors {
		dto.Factors = append(dto.Factors, riskFactorDTO{
			Name:         f.Name,
			Contribution: f.Contribution,
			Description:  f.Description,
		})
	}
	return dto
}

func fromDTO(dto *planDTO) *transform.TransformationPlan {
	snap := transform.PlanSnapshot{
		ID:        transform.PlanID(dto.ID),
		Codebase:  dto.Codebase,
		CreatedAt: dto.CreatedAt,
		Waves:     make([]transform.WaveSnapshot, 0, len(dto.Waves)),
	}
	for _, wd := range dto.Waves {
		ws := transform.WaveSnapshot{
			ID:       transform.WaveID(wd.ID),
			Order:    wd.Order,
			Disjoint: wd.Disjoint,
			Batches:  make([]transform.BatchSnapshot, 0, len(wd.Batches)),
		}
		for _, p := range wd.Prerequisites {
			ws.Prerequisites = append(ws.Prerequisites, transform.WaveID(p))
		}
		for _, bd := range wd.Batches {
			ws.Batches = append(ws.Batches, batchFromDTO(bd))
		}
		snap.Waves = append(snap.Waves, ws)
	}
	return transform.ReconstructPlan(snap)
}

func batchFromDTO(dto batchDTO) transform.BatchSnapshot {
	snap := transform.BatchSnapshot{
		ID:         transform.BatchID(dto.ID),
		Order:      dto.Order,
		Status:     transform.BatchStatus(dto.Status),
		Risk:       riskFromDTO(dto.Risk),
		History:    dto.History,
		Approved:   dto.Approved,
		ApprovedBy: dto.ApprovedBy,
		LastReason: dto.LastReason,
		CreatedAt:  dto.CreatedAt,
		UpdatedAt:  dto.UpdatedAt,
	}
	for _, f := range dto.Files {
		snap.Files = append(snap.Files, transform.FileChange{
			Path:      f.Path,
			Kind:      transform.TransformationKind(f.Kind),
			Language:  transform.Language(f.Language),
			Before:    f.Before,
			After:     f.After,
			DependsOn: f.DependsOn,
			Coverage:  f.Coverage,
		})
	}
	for _, w := range dto.Warnings {
		snap.Warnings = append(snap.Warnings, transform.BehaviorDifference{
			Kind:        transform.DifferenceKind(w.Kind),
			Severity:    transform.DifferenceSeverity(w.Severity),
			Description: w.Description,
			Location:    w.Location,
		})
	}
	if dto.TestResult != nil {
		snap.TestResult = &transform.TestResult{
			Passed:   dto.TestResult.Passed,
			Failures: dto.TestResult.Failures,
			Coverage: dto.TestResult.Coverage,
		}
	}
	return snap
}

func riskFromDTO(dto riskScoreDTO) transform.RiskScore {
	score := transform.RiskScore{
		Value:                   dto.Value,
		Level:                   transform.RiskLevel(dto.Level),
		RequiresManualApproval:  dto.RequiresManualApproval,
		RequiresExtendedTesting: dto.RequiresExtendedTesting,
	}
	for _, f := range dto.Factors {
		score.Factors = append(score.Factors, transform.RiskFactor{
			Name:         f.Name,
			Contribution: f.Contribution,
			Description:  f.Description,
		})
	}
	return score
}
