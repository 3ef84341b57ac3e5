package roboflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/httpclient"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability/metrics"
)

// Annotate retry policy.
const (
	annotateAttempts       = 3
	annotateInitialBackoff = time.Second
)

// DatasetConfig identifies the Roboflow dataset and project.
type DatasetConfig struct {
	APIURL    string // e.g. https://api.roboflow.com
	APIKey    string
	Workspace string
	Project   string
	Dataset   string
	ModelType string
}

// DatasetClient uploads images and labels and triggers training.
type DatasetClient struct {
	http     *httpclient.Client
	cfg      DatasetConfig
	recorder Recorder
	log      logger.Logger

	// sleep waits between annotate attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDatasetClient creates a dataset client. A nil recorder disables metrics.
func NewDatasetClient(client *httpclient.Client, cfg DatasetConfig, recorder Recorder, log logger.Logger) *DatasetClient {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if log == nil {
		log = logger.Global().Module("roboflow")
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Dataset == "" {
		cfg.Dataset = cfg.Project
	}
	return &DatasetClient{
		http:     client,
		cfg:      cfg,
		recorder: recorder,
		log:      log,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *DatasetClient) requireKey() error {
	if c.cfg.APIKey == "" {
		return errors.Newf("roboflow api key is not configured").
			Component("roboflow").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// UploadImage posts the base64-encoded image to the dataset. Both 200 and
// 201 count as success.
func (c *DatasetClient) UploadImage(ctx context.Context, name string, image []byte, split string) (result *UploadResult, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpUpload, err, time.Since(start)) }()

	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if split == "" {
		split = "train"
	}

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("name", name)
	q.Set("split", split)
	endpoint := c.cfg.APIURL + "/dataset/" + url.PathEscape(c.cfg.Dataset) + "/upload?" + q.Encode()

	resp, err := c.http.Post(ctx, endpoint, "application/x-www-form-urlencoded",
		base64.StdEncoding.EncodeToString(image))
	if err != nil {
		return nil, wrapIntegration(err, metrics.OpUpload, endpoint, start)
	}

	result = &UploadResult{}
	if err := httpclient.DecodeResponse(resp, result, http.StatusOK, http.StatusCreated); err != nil {
		return nil, wrapIntegration(err, metrics.OpUpload, endpoint, start)
	}
	return result, nil
}

type annotateRequest struct {
	AnnotationFile string            `json:"annotationFile"`
	Labelmap       map[string]string `json:"labelmap"`
}

// Annotate attaches YOLO labels to an uploaded dataset item.
func (c *DatasetClient) Annotate(ctx context.Context, itemID, annotationName, yoloText string) (result *AnnotateResult, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpAnnotate, err, time.Since(start)) }()

	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, errors.ValidationError("no dataset item id to annotate")
	}

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("name", annotationName)
	endpoint := c.cfg.APIURL + "/dataset/" + url.PathEscape(c.cfg.Dataset) +
		"/annotate/" + url.PathEscape(itemID) + "?" + q.Encode()

	result = &AnnotateResult{}
	body := annotateRequest{AnnotationFile: yoloText, Labelmap: Labelmap()}
	if err := c.http.PostJSON(ctx, endpoint, body, result, http.StatusOK, http.StatusCreated); err != nil {
		return nil, wrapIntegration(err, metrics.OpAnnotate, endpoint, start)
	}
	return result, nil
}

// AnnotateWithRetry calls Annotate up to three times, waiting 1s then 2s
// between attempts. It returns the last error after the final attempt.
func (c *DatasetClient) AnnotateWithRetry(ctx context.Context, itemID, annotationName, yoloText string) (*AnnotateResult, error) {
	backoff := annotateInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= annotateAttempts; attempt++ {
		result, err := c.Annotate(ctx, itemID, annotationName, yoloText)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.log.Warn("annotate attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", annotateAttempts),
			logger.String("item_id", itemID),
			logger.Error(err))

		if attempt == annotateAttempts {
			break
		}
		c.recorder.RecordAnnotateRetry()
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, errors.New(lastErr).
		Component("roboflow").
		Category(errors.CategoryRetry).
		Context("operation", metrics.OpAnnotate).
		Context("attempts", annotateAttempts).
		Build()
}

// versionSettings is the preprocessing and augmentation applied to every
// generated dataset version.
var versionSettings = map[string]any{
	"preprocessing": map[string]any{
		"auto-orient": true,
	},
	"augmentation": map[string]any{
		"rotate":     map[string]any{"degrees": 15},
		"brightness": map[string]any{"brighten": true, "darken": true, "percent": 25},
		"blur":       map[string]any{"pixels": 2.5},
	},
}

func (c *DatasetClient) projectURL(suffix string) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}
	if c.cfg.Workspace == "" || c.cfg.Project == "" {
		return "", errors.Newf("roboflow workspace and project must be configured").
			Component("roboflow").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return c.cfg.APIURL + "/" + url.PathEscape(c.cfg.Workspace) + "/" + url.PathEscape(c.cfg.Project) +
		suffix + "?api_key=" + url.QueryEscape(c.cfg.APIKey), nil
}

// GenerateVersion creates a new dataset version and returns its number.
func (c *DatasetClient) GenerateVersion(ctx context.Context) (version string, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpGenerateVersion, err, time.Since(start)) }()

	endpoint, err := c.projectURL("/generate")
	if err != nil {
		return "", err
	}

	var resp struct {
		Version json.RawMessage `json:"version"`
	}
	if err := c.http.PostJSON(ctx, endpoint, versionSettings, &resp); err != nil {
		return "", wrapIntegration(err, metrics.OpGenerateVersion, endpoint, start)
	}

	version = parseVersion(resp.Version)
	if version == "" {
		return "", errors.Newf("roboflow did not return a dataset version").
			Component("roboflow").
			Category(errors.CategoryIntegration).
			Context("operation", metrics.OpGenerateVersion).
			Build()
	}
	return version, nil
}

// parseVersion accepts 3, "3" or "workspace/project/3".
func parseVersion(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Itoa(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// TrainVersion starts training the configured model on a dataset version.
func (c *DatasetClient) TrainVersion(ctx context.Context, version string) (result *TrainResult, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpTrain, err, time.Since(start)) }()

	endpoint, err := c.projectURL("/" + url.PathEscape(version) + "/train")
	if err != nil {
		return nil, err
	}

	modelType := c.cfg.ModelType
	if modelType == "" {
		modelType = "yolov11s"
	}
	var raw json.RawMessage
	if err := c.http.PostJSON(ctx, endpoint, map[string]any{"modelType": modelType}, &raw); err != nil {
		return nil, wrapIntegration(err, metrics.OpTrain, endpoint, start)
	}
	return &TrainResult{Workspace: c.cfg.Workspace, Project: c.cfg.Project, Version: version, Raw: raw}, nil
}

// Train posts to the project train endpoint with an optional version, as
// the manual training trigger does.
func (c *DatasetClient) Train(ctx context.Context, version string) (result *TrainResult, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpTrain, err, time.Since(start)) }()

	endpoint, err := c.projectURL("/train")
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if version != "" {
		body["version"] = version
	}
	var raw json.RawMessage
	if err := c.http.PostJSON(ctx, endpoint, body, &raw); err != nil {
		return nil, wrapIntegration(err, metrics.OpTrain, endpoint, start)
	}
	return &TrainResult{Workspace: c.cfg.Workspace, Project: c.cfg.Project, Version: version, Raw: raw}, nil
}

// Config returns the dataset configuration.
func (c *DatasetClient) Config() DatasetConfig {
	return c.cfg
}
