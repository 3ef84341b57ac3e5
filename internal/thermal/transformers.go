// Package thermal manages transformers, their inspections, the thermal
// images captured during inspections and the alerts raised from them.
package thermal

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/storage"
)

const transformerListKey = "transformers:all"

// ErrBaselineNotFound is returned when no baseline image is stored for the
// requested weather condition.
var ErrBaselineNotFound = errors.NewSentinel("baseline image not found", errors.CategoryNotFound)

// TransformerInput is the create and update body for transformers.
type TransformerInput struct {
	TransformerNo   string   `json:"transformerNo"`
	PoleNo          string   `json:"poleNo"`
	Region          string   `json:"region"`
	Type            string   `json:"type"`
	LocationDetails string   `json:"locationDetails"`
	Capacity        *float64 `json:"capacity"`
	NoOfFeeders     *int     `json:"noOfFeeders"`
	Status          string   `json:"status"`
}

func (in *TransformerInput) validate() error {
	if strings.TrimSpace(in.TransformerNo) == "" {
		return errors.ValidationError("transformerNo is required")
	}
	if strings.TrimSpace(in.Type) == "" {
		return errors.ValidationError("type is required")
	}
	return nil
}

func (in *TransformerInput) apply(t *entities.Transformer) {
	t.TransformerNo = strings.TrimSpace(in.TransformerNo)
	t.PoleNo = in.PoleNo
	t.Region = in.Region
	t.Type = in.Type
	t.LocationDetails = in.LocationDetails
	t.Capacity = in.Capacity
	t.NoOfFeeders = in.NoOfFeeders
	if in.Status != "" {
		t.Status = in.Status
	}
}

// TransformerService implements transformer CRUD and baseline images.
type TransformerService struct {
	store  *repository.Store
	images storage.Backend
	cache  *cache.Cache
	log    logger.Logger
}

// NewTransformerService creates a TransformerService. The transformer list
// is cached for listTTL and invalidated by every write.
func NewTransformerService(store *repository.Store, images storage.Backend, listTTL time.Duration, log logger.Logger) *TransformerService {
	if listTTL <= 0 {
		listTTL = 30 * time.Second
	}
	if log == nil {
		log = logger.Global().Module("thermal")
	}
	return &TransformerService{
		store:  store,
		images: images,
		cache:  cache.New(listTTL, 2*listTTL),
		log:    log,
	}
}

// List returns every transformer, newest first.
func (s *TransformerService) List(ctx context.Context) ([]entities.Transformer, error) {
	if v, ok := s.cache.Get(transformerListKey); ok {
		if list, ok := v.([]entities.Transformer); ok {
			return list, nil
		}
	}
	list, err := s.store.Transformers.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(transformerListKey, list)
	return list, nil
}

// Get returns one transformer.
func (s *TransformerService) Get(ctx context.Context, id string) (*entities.Transformer, error) {
	return s.store.Transformers.GetByID(ctx, id)
}

// Create stores a new transformer. A taken transformer number yields
// repository.ErrDuplicateKey.
func (s *TransformerService) Create(ctx context.Context, in TransformerInput) (*entities.Transformer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := &entities.Transformer{}
	in.apply(t)
	if err := s.store.Transformers.Create(ctx, t); err != nil {
		return nil, err
	}
	s.cache.Delete(transformerListKey)
	s.log.Info("transformer created",
		logger.String("transformer_id", t.ID),
		logger.String("transformer_no", t.TransformerNo))
	return t, nil
}

// Update overwrites the descriptive fields of a transformer.
func (s *TransformerService) Update(ctx context.Context, id string, in TransformerInput) (*entities.Transformer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.store.Transformers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(t)
	if err := s.store.Transformers.Save(ctx, t); err != nil {
		return nil, err
	}
	s.cache.Delete(transformerListKey)
	return t, nil
}

// Delete removes a transformer with its inspections, images and annotations.
func (s *TransformerService) Delete(ctx context.Context, id string) error {
	if err := s.store.Transformers.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(transformerListKey)
	s.log.Info("transformer deleted", logger.String("transformer_id", id))
	return nil
}

// UploadBaseline stores the baseline image for a weather condition and
// records its URL on the transformer.
func (s *TransformerService) UploadBaseline(ctx context.Context, id, weather, filename string, data []byte, contentType string) (*entities.Transformer, error) {
	weather = strings.ToLower(strings.TrimSpace(weather))
	if !validWeather(weather) {
		return nil, errors.Newf("invalid weather condition: %s", weather).
			Component("thermal").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(data) == 0 {
		return nil, errors.ValidationError("baseline image file is empty")
	}

	t, err := s.store.Transformers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(storage.SanitizeFilename(filename)))
	if ext == "" {
		ext = ".jpg"
	}
	name := uuid.NewString() + "_" + t.ID + "_baseline_" + weather + ext
	url, err := s.images.Save(ctx, name, data, contentType)
	if err != nil {
		return nil, err
	}

	t.SetBaselineURL(weather, url)
	if err := s.store.Transformers.Save(ctx, t); err != nil {
		_ = s.images.Delete(context.WithoutCancel(ctx), name)
		return nil, err
	}
	s.cache.Delete(transformerListKey)
	s.log.Info("baseline image stored",
		logger.String("transformer_id", t.ID),
		logger.String("weather", weather),
		logger.String("url", url))
	return t, nil
}

// Baseline returns the baseline image URL for a weather condition.
func (s *TransformerService) Baseline(ctx context.Context, id, weather string) (string, error) {
	t, err := s.store.Transformers.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	url := t.BaselineURL(strings.ToLower(strings.TrimSpace(weather)))
	if url == nil || *url == "" {
		return "", ErrBaselineNotFound
	}
	return *url, nil
}

func validWeather(w string) bool {
	switch w {
	case entities.WeatherSunny, entities.WeatherCloudy, entities.WeatherRainy:
		return true
	}
	return false
}
