package thermal

import (
	"context"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// InspectionRequest creates or partially updates an inspection. On update
// nil fields are left unchanged and the transformer is never reassigned.
type InspectionRequest struct {
	InspectionNo     *string    `json:"inspectionNo"`
	TransformerID    string     `json:"transformerId"`
	InspectedDate    *time.Time `json:"inspectedDate"`
	MaintenanceDate  *time.Time `json:"maintenanceDate"`
	Status           *string    `json:"status"`
	InspectedBy      *string    `json:"inspectedBy"`
	WeatherCondition *string    `json:"weatherCondition"`
}

// InspectionService implements inspection CRUD.
type InspectionService struct {
	store *repository.Store
	log   logger.Logger
}

// NewInspectionService creates an InspectionService.
func NewInspectionService(store *repository.Store, log logger.Logger) *InspectionService {
	if log == nil {
		log = logger.Global().Module("thermal")
	}
	return &InspectionService{store: store, log: log}
}

// List returns inspections newest first, optionally for one transformer.
func (s *InspectionService) List(ctx context.Context, transformerID string) ([]entities.Inspection, error) {
	return s.store.Inspections.List(ctx, transformerID)
}

// Get returns one inspection with its transformer.
func (s *InspectionService) Get(ctx context.Context, id string) (*entities.Inspection, error) {
	return s.store.Inspections.GetByID(ctx, id)
}

// Create stores an inspection for an existing transformer.
func (s *InspectionService) Create(ctx context.Context, req InspectionRequest) (*entities.Inspection, error) {
	if req.InspectionNo == nil || strings.TrimSpace(*req.InspectionNo) == "" {
		return nil, errors.ValidationError("inspectionNo is required")
	}
	if req.InspectedDate == nil || req.InspectedDate.IsZero() {
		return nil, errors.ValidationError("inspectedDate is required")
	}
	if req.TransformerID == "" {
		return nil, errors.ValidationError("transformerId is required")
	}
	tr, err := s.store.Transformers.GetByID(ctx, req.TransformerID)
	if err != nil {
		return nil, err
	}

	insp := &entities.Inspection{
		InspectionNo:    strings.TrimSpace(*req.InspectionNo),
		TransformerID:   &tr.ID,
		InspectedDate:   *req.InspectedDate,
		MaintenanceDate: req.MaintenanceDate,
	}
	applyOptional(insp, &req)
	if err := s.store.Inspections.Create(ctx, insp); err != nil {
		return nil, err
	}

	s.log.Info("inspection created",
		logger.String("inspection_id", insp.ID),
		logger.String("transformer_id", tr.ID))
	return insp, nil
}

// Update applies the non-nil fields of req.
func (s *InspectionService) Update(ctx context.Context, id string, req InspectionRequest) (*entities.Inspection, error) {
	insp, err := s.store.Inspections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.InspectionNo != nil {
		if strings.TrimSpace(*req.InspectionNo) == "" {
			return nil, errors.ValidationError("inspectionNo must not be empty")
		}
		insp.InspectionNo = strings.TrimSpace(*req.InspectionNo)
	}
	if req.InspectedDate != nil {
		insp.InspectedDate = *req.InspectedDate
	}
	if req.MaintenanceDate != nil {
		insp.MaintenanceDate = req.MaintenanceDate
	}
	applyOptional(insp, &req)

	if err := s.store.Inspections.Save(ctx, insp); err != nil {
		return nil, err
	}
	return insp, nil
}

// Delete removes an inspection and everything captured during it.
func (s *InspectionService) Delete(ctx context.Context, id string) error {
	if err := s.store.Inspections.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("inspection deleted", logger.String("inspection_id", id))
	return nil
}

func applyOptional(insp *entities.Inspection, req *InspectionRequest) {
	if req.Status != nil {
		insp.Status = *req.Status
	}
	if req.InspectedBy != nil {
		insp.InspectedBy = *req.InspectedBy
	}
	if req.WeatherCondition != nil {
		insp.WeatherCondition = *req.WeatherCondition
	}
}
