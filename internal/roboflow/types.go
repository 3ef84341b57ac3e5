// Package roboflow talks to the hosted Roboflow APIs: workflow inference for
// thermal anomaly detection, dataset upload and annotation for retraining,
// and dataset version generation and training.
package roboflow

import (
	"encoding/json"
	"time"
)

// Prediction is one bounding box returned by the inference workflow.
// Coordinates are the box centre and size in pixels.
type Prediction struct {
	DetectionID string  `json:"detection_id"`
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	Confidence  float64 `json:"confidence"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// InferenceResult is the first workflow output.
type InferenceResult struct {
	CountObjects int
	Predictions  []Prediction
	// RawPredictions is the prediction array exactly as returned, stored as
	// legacy detection data on the image.
	RawPredictions json.RawMessage
}

// HasAnomalies reports whether any box was detected.
func (r *InferenceResult) HasAnomalies() bool {
	return r != nil && (r.CountObjects > 0 || len(r.Predictions) > 0)
}

// workflowResponse mirrors the serverless workflow response body.
type workflowResponse struct {
	Outputs []struct {
		CountObjects int `json:"count_objects"`
		Predictions  struct {
			Predictions json.RawMessage `json:"predictions"`
		} `json:"predictions"`
	} `json:"outputs"`
}

// UploadResult is the dataset upload response.
type UploadResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
	Success   bool   `json:"success,omitempty"`
}

// AnnotateResult is the dataset annotate response.
type AnnotateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UploadSummary reports the outcome of UploadWithAnnotations.
type UploadSummary struct {
	ThermalImageID string        `json:"thermalImageId"`
	Upload         *UploadResult `json:"upload"`
	Annotated      bool          `json:"annotated"`
	AnnotateError  string        `json:"annotateError,omitempty"`
	Annotations    int           `json:"annotations"`
}

// BatchSummary reports the outcome of a batch upload.
type BatchSummary struct {
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failure int    `json:"failure"`
	Split   string `json:"split"`
	Message string `json:"message,omitempty"`
}

// TrainResult carries the identifiers of a triggered training run.
type TrainResult struct {
	Workspace string          `json:"workspace"`
	Project   string          `json:"project"`
	Version   string          `json:"version"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Recorder receives call metrics. observability/metrics.RoboflowMetrics
// implements it.
type Recorder interface {
	RecordCall(operation string, err error, duration time.Duration)
	RecordAnnotateRetry()
	RecordPredictions(n int)
}

type noopRecorder struct{}

func (noopRecorder) RecordCall(string, error, time.Duration) {}
func (noopRecorder) RecordAnnotateRetry()                    {}
func (noopRecorder) RecordPredictions(int)                   {}
