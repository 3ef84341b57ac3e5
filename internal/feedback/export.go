package feedback

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// CSVHeader is the fixed header row of CSV exports.
var CSVHeader = []string{
	"Image ID", "Image URL", "Image Type",
	"AI Detection ID", "AI Class", "AI Confidence", "AI X", "AI Y", "AI Width", "AI Height",
	"Final Detection ID", "Final Class", "Final Confidence", "Final X", "Final Y", "Final Width", "Final Height",
	"Feedback Type", "Annotator ID", "Annotator Name", "Annotator Role",
	"Timestamp", "Comments", "Used For Training",
}

// snapshotColumns are read from each snapshot, in CSV order.
var snapshotColumns = []string{"detectionId", "detectionClass", "confidence", "x", "y", "width", "height"}

// AnnotatorMetadata identifies who produced a log.
type AnnotatorMetadata struct {
	AnnotatorID   string `json:"annotatorId"`
	AnnotatorName string `json:"annotatorName"`
	AnnotatorRole string `json:"annotatorRole"`
	Timestamp     string `json:"timestamp"`
}

// ExportRecord is one entry of a JSON export.
type ExportRecord struct {
	ImageID                  string            `json:"imageId"`
	ImageURL                 string            `json:"imageUrl"`
	ImageType                string            `json:"imageType"`
	ModelPredictedAnomalies  json.RawMessage   `json:"modelPredictedAnomalies"`
	FinalAcceptedAnnotations json.RawMessage   `json:"finalAcceptedAnnotations"`
	AnnotatorMetadata        AnnotatorMetadata `json:"annotatorMetadata"`
	FeedbackType             string            `json:"feedbackType"`
	Comments                 *string           `json:"comments"`
	UsedForTraining          bool              `json:"usedForTraining"`
}

// ExportFilename returns the attachment name for an export made at t.
func ExportFilename(format string, t time.Time) string {
	return fmt.Sprintf("feedback_logs_%s.%s", t.Format(time.DateOnly), format)
}

// ExportJSON renders logs as an indented JSON array and stamps exportedAt.
func (s *Service) ExportJSON(ctx context.Context, logs []entities.FeedbackLog) ([]byte, error) {
	records := make([]ExportRecord, 0, len(logs))
	for i := range logs {
		records = append(records, exportRecord(&logs[i]))
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, exportError(err, FormatJSON)
	}
	if err := s.markExported(ctx, logs); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportCSV renders logs as CSV and stamps exportedAt.
func (s *Service) ExportCSV(ctx context.Context, logs []entities.FeedbackLog) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, exportError(err, FormatCSV)
	}
	for i := range logs {
		if err := w.Write(csvRow(&logs[i])); err != nil {
			return nil, exportError(err, FormatCSV)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, exportError(err, FormatCSV)
	}
	if err := s.markExported(ctx, logs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export dispatches on format.
func (s *Service) Export(ctx context.Context, format string, logs []entities.FeedbackLog) ([]byte, error) {
	switch format {
	case FormatJSON:
		return s.ExportJSON(ctx, logs)
	case FormatCSV:
		return s.ExportCSV(ctx, logs)
	}
	return nil, errors.Newf("unsupported export format %q", format).
		Component("feedback").
		Category(errors.CategoryValidation).
		Build()
}

func (s *Service) markExported(ctx context.Context, logs []entities.FeedbackLog) error {
	if len(logs) == 0 {
		return nil
	}
	at := s.now()
	ids := make([]string, len(logs))
	for i := range logs {
		ids[i] = logs[i].ID
		logs[i].ExportedAt = &at
	}
	if err := s.store.FeedbackLogs.MarkExported(ctx, ids, at); err != nil {
		return err
	}
	s.log.Info("feedback logs exported", logger.Int("count", len(ids)))
	return nil
}

func exportRecord(l *entities.FeedbackLog) ExportRecord {
	r := ExportRecord{
		ImageID:                  l.ThermalImageID,
		ModelPredictedAnomalies:  rawOrNull(l.AIPrediction),
		FinalAcceptedAnnotations: rawOrNull(l.FinalAnnotation),
		AnnotatorMetadata: AnnotatorMetadata{
			AnnotatorID:   l.AnnotatorID,
			AnnotatorName: l.AnnotatorName,
			AnnotatorRole: l.AnnotatorRole,
			Timestamp:     l.CreatedAt.Format(time.RFC3339Nano),
		},
		FeedbackType:    l.FeedbackType,
		Comments:        l.Comments,
		UsedForTraining: l.UsedForTraining,
	}
	if l.ThermalImage != nil {
		r.ImageURL = l.ThermalImage.ImageURL
		r.ImageType = l.ThermalImage.ImageType
	}
	return r
}

func csvRow(l *entities.FeedbackLog) []string {
	row := make([]string, 0, len(CSVHeader))
	row = append(row, l.ThermalImageID)
	if l.ThermalImage != nil {
		row = append(row, l.ThermalImage.ImageURL, l.ThermalImage.ImageType)
	} else {
		row = append(row, "", "")
	}
	row = append(row, snapshotCells(l.AIPrediction)...)
	row = append(row, snapshotCells(l.FinalAnnotation)...)

	comments := ""
	if l.Comments != nil {
		comments = *l.Comments
	}
	return append(row,
		l.FeedbackType,
		l.AnnotatorID,
		l.AnnotatorName,
		l.AnnotatorRole,
		l.CreatedAt.Format(time.RFC3339Nano),
		comments,
		strconv.FormatBool(l.UsedForTraining),
	)
}

// snapshotCells returns one cell per snapshotColumns entry; unparsable or
// missing snapshots yield empty cells.
func snapshotCells(raw []byte) []string {
	cells := make([]string, len(snapshotColumns))
	if len(raw) == 0 {
		return cells
	}
	var snap map[string]any
	if err := json.Unmarshal(raw, &snap); err != nil || snap == nil {
		return cells
	}
	for i, key := range snapshotColumns {
		cells[i] = cellString(snap[key])
	}
	return cells
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}

func exportError(err error, format string) error {
	return errors.New(err).
		Component("feedback").
		Category(errors.CategoryExport).
		Context("format", format).
		Build()
}
