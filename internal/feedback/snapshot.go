// Package feedback records how inspectors corrected model predictions and
// exports those records for retraining.
package feedback

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// Snapshot is the serialized state of one detection, before or after an
// inspector touched it.
type Snapshot map[string]any

// notFoundByAI is the before-state for boxes the model never produced.
func notFoundByAI() Snapshot {
	return Snapshot{"exists": false, "note": "User added new detection not found by AI"}
}

func snapshotAnnotation(a *entities.Annotation) Snapshot {
	s := Snapshot{
		"detectionId":    a.DetectionID,
		"detectionClass": a.DetectionClass,
		"confidence":     a.Confidence,
		"x":              a.X,
		"y":              a.Y,
		"width":          a.Width,
		"height":         a.Height,
		"annotationType": a.AnnotationType,
		"comments":       a.Comments,
		"createdBy":      a.CreatedBy,
		"createdAt":      a.CreatedAt.Format(time.RFC3339Nano),
		"modifiedBy":     a.ModifiedBy,
		"modifiedAt":     nil,
	}
	if a.ModifiedAt != nil {
		s["modifiedAt"] = a.ModifiedAt.Format(time.RFC3339Nano)
	}
	return s
}

// snapshotFromDetectionData finds detectionID in the raw prediction list
// stored on an image. Both a bare array and an object with a predictions
// array are accepted.
func snapshotFromDetectionData(raw, detectionID string) (Snapshot, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || detectionID == "" {
		return nil, false
	}

	var predictions []map[string]any
	if err := json.Unmarshal([]byte(raw), &predictions); err != nil {
		var wrapped struct {
			Predictions []map[string]any `json:"predictions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, false
		}
		predictions = wrapped.Predictions
	}

	for _, p := range predictions {
		id, ok := p["detection_id"]
		if !ok || fmt.Sprint(id) != detectionID {
			continue
		}
		return Snapshot{
			"detectionId":    detectionID,
			"detectionClass": p["class"],
			"confidence":     p["confidence"],
			"x":              p["x"],
			"y":              p["y"],
			"width":          p["width"],
			"height":         p["height"],
			"annotationType": entities.AnnotationAIDetected,
		}, true
	}
	return nil, false
}

// feedbackType maps an annotation lineage tag to a feedback type.
func feedbackType(annotationType string) string {
	switch annotationType {
	case entities.AnnotationUserAdded:
		return entities.FeedbackAddition
	case entities.AnnotationUserEdited:
		return entities.FeedbackCorrection
	case entities.AnnotationUserDeleted:
		return entities.FeedbackDeletion
	}
	return entities.FeedbackNoChange
}

// ValidType reports whether t is a known feedback type.
func ValidType(t string) bool {
	switch t {
	case entities.FeedbackAddition, entities.FeedbackCorrection, entities.FeedbackDeletion, entities.FeedbackNoChange:
		return true
	}
	return false
}
