// Package repository provides GORM-backed repositories for the gridlens
// entities. Every method takes a context and returns typed sentinel errors
// so callers never depend on GORM error values.
package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/errors"
)

// Sentinel errors for repository operations.
var (
	// ErrTransformerNotFound indicates the requested transformer does not exist.
	ErrTransformerNotFound = errors.NewSentinel("transformer not found", errors.CategoryNotFound)

	// ErrInspectionNotFound indicates the requested inspection does not exist.
	ErrInspectionNotFound = errors.NewSentinel("inspection not found", errors.CategoryNotFound)

	// ErrThermalImageNotFound indicates the requested thermal image does not exist.
	ErrThermalImageNotFound = errors.NewSentinel("thermal image not found", errors.CategoryNotFound)

	// ErrAnnotationNotFound indicates the requested annotation does not exist.
	ErrAnnotationNotFound = errors.NewSentinel("annotation not found", errors.CategoryNotFound)

	// ErrFeedbackLogNotFound indicates the requested feedback log does not exist.
	ErrFeedbackLogNotFound = errors.NewSentinel("feedback log not found", errors.CategoryNotFound)

	// ErrAlertNotFound indicates the requested alert does not exist.
	ErrAlertNotFound = errors.NewSentinel("alert not found", errors.CategoryNotFound)

	// ErrTrainingJobNotFound indicates the requested training job does not exist.
	ErrTrainingJobNotFound = errors.NewSentinel("training job not found", errors.CategoryNotFound)

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewSentinel("duplicate key", errors.CategoryConflict)
)

// translate maps GORM errors onto the package sentinels. notFound is
// returned for gorm.ErrRecordNotFound.
func translate(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	}
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}
