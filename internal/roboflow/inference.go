package roboflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/httpclient"
	"github.com/gridlens/gridlens/internal/observability/metrics"
)

// InferenceClient runs the anomaly-detection workflow.
type InferenceClient struct {
	http     *httpclient.Client
	url      string
	apiKey   string
	recorder Recorder
}

// NewInferenceClient creates a client for the workflow at url. A nil
// recorder disables metrics.
func NewInferenceClient(client *httpclient.Client, url, apiKey string, recorder Recorder) *InferenceClient {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &InferenceClient{http: client, url: url, apiKey: apiKey, recorder: recorder}
}

type inferenceRequest struct {
	APIKey string `json:"api_key"`
	Inputs struct {
		Image struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"image"`
	} `json:"inputs"`
}

// Detect sends image bytes as base64 and parses the first workflow output.
func (c *InferenceClient) Detect(ctx context.Context, image []byte) (result *InferenceResult, err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCall(metrics.OpInference, err, time.Since(start)) }()

	if c.apiKey == "" {
		return nil, errors.Newf("roboflow api key is not configured").
			Component("roboflow").
			Category(errors.CategoryConfiguration).
			Build()
	}

	var req inferenceRequest
	req.APIKey = c.apiKey
	req.Inputs.Image.Type = "base64"
	req.Inputs.Image.Value = base64.StdEncoding.EncodeToString(image)

	var resp workflowResponse
	if err := c.http.PostJSON(ctx, c.url, req, &resp, 200); err != nil {
		return nil, wrapIntegration(err, metrics.OpInference, c.url, start)
	}

	result = &InferenceResult{RawPredictions: json.RawMessage("[]")}
	if len(resp.Outputs) == 0 {
		return result, nil
	}
	out := resp.Outputs[0]
	result.CountObjects = out.CountObjects

	raw := bytes.TrimSpace(out.Predictions.Predictions)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &result.Predictions); err != nil {
			return nil, errors.New(err).
				Component("roboflow").
				Category(errors.CategoryIntegration).
				Context("operation", "parse_predictions").
				Build()
		}
		result.RawPredictions = json.RawMessage(raw)
	}
	c.recorder.RecordPredictions(len(result.Predictions))
	return result, nil
}

// wrapIntegration tags upstream failures so the API maps them to 502.
// Cancellation keeps its own category. The endpoint is recorded only as
// its scheme, never with the key in its query.
func wrapIntegration(err error, operation, endpoint string, start time.Time) error {
	if errors.IsCategory(err, errors.CategoryCancellation) {
		return err
	}
	return errors.New(err).
		Component("roboflow").
		Category(errors.CategoryIntegration).
		NetworkContext(endpoint, 0).
		Timing(operation, time.Since(start)).
		Build()
}
