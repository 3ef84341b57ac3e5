// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	// StatusSuccess marks a successful operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
	// StatusSkipped marks an operation that was not attempted.
	StatusSkipped = "skipped"
)

// Roboflow operation label values.
const (
	OpInference       = "inference"
	OpUpload          = "upload"
	OpAnnotate        = "annotate"
	OpGenerateVersion = "generate_version"
	OpTrain           = "train"
)

// Annotation operation label values.
const (
	OpSync       = "sync"
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpSynthesize = "synthesize"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100B is the starting bucket for 100 byte histograms (100B to ~100MB range).
	BucketStart100B = 100.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor10 is the exponential growth factor of 10 for larger ranges.
	BucketFactor10 = 10

	// BucketCount6 defines 6 exponential buckets.
	BucketCount6 = 6
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
