// Package annotation manages bounding-box annotations on thermal images and
// reconciles them with the detection sets edited in the inspection UI.
package annotation

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// Number is a float that decodes leniently: numbers and numeric strings are
// accepted, anything else (null, garbage, NaN) becomes zero.
type Number float64

// UnmarshalJSON never fails.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number(f)
	return nil
}

// ID is a string that also accepts a JSON number.
type ID string

// UnmarshalJSON accepts "abc", 42 and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Detection is the wire form of one box exchanged with the inspection UI
// during sync.
type Detection struct {
	DetectionID    ID      `json:"detection_id"`
	Class          string  `json:"class"`
	Confidence     Number  `json:"confidence"`
	X              Number  `json:"x"`
	Y              Number  `json:"y"`
	Width          Number  `json:"width"`
	Height         Number  `json:"height"`
	AnnotationType string  `json:"annotationType,omitempty"`
	Comments       *string `json:"comments"`
	CreatedAt      string  `json:"createdAt,omitempty"`
	CreatedBy      string  `json:"createdBy,omitempty"`
	ModifiedAt     string  `json:"modifiedAt,omitempty"`
	ModifiedBy     string  `json:"modifiedBy,omitempty"`
}

// DetectionFrom converts a stored annotation to its wire form.
func DetectionFrom(a *entities.Annotation) Detection {
	d := Detection{
		DetectionID:    ID(a.DetectionID),
		Class:          a.DetectionClass,
		Confidence:     Number(a.Confidence),
		X:              Number(a.X),
		Y:              Number(a.Y),
		Width:          Number(a.Width),
		Height:         Number(a.Height),
		AnnotationType: a.AnnotationType,
		Comments:       a.Comments,
		CreatedBy:      a.CreatedBy,
	}
	if !a.CreatedAt.IsZero() {
		d.CreatedAt = a.CreatedAt.Format(time.RFC3339Nano)
	}
	if a.ModifiedAt != nil {
		d.ModifiedAt = a.ModifiedAt.Format(time.RFC3339Nano)
	}
	if a.ModifiedBy != nil {
		d.ModifiedBy = *a.ModifiedBy
	}
	return d
}

// Input is the body of manual create and update requests.
type Input struct {
	DetectionID    ID      `json:"detectionId"`
	AnnotationType string  `json:"annotationType"`
	DetectionClass string  `json:"detectionClass"`
	Confidence     Number  `json:"confidence"`
	X              Number  `json:"x"`
	Y              Number  `json:"y"`
	Width          Number  `json:"width"`
	Height         Number  `json:"height"`
	Comments       *string `json:"comments"`
}

// Record is the API representation of a stored annotation.
type Record struct {
	ID             string     `json:"id"`
	ThermalImageID string     `json:"thermalImageId"`
	TransformerID  *string    `json:"transformerId"`
	DetectionID    string     `json:"detectionId"`
	AnnotationType string     `json:"annotationType"`
	DetectionClass string     `json:"detectionClass"`
	Confidence     float64    `json:"confidence"`
	X              float64    `json:"x"`
	Y              float64    `json:"y"`
	Width          float64    `json:"width"`
	Height         float64    `json:"height"`
	Comments       *string    `json:"comments"`
	IsDeleted      bool       `json:"isDeleted"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	ModifiedBy     *string    `json:"modifiedBy"`
	ModifiedAt     *time.Time `json:"modifiedAt"`
}

// RecordFrom converts a stored annotation to its API form.
func RecordFrom(a *entities.Annotation) Record {
	return Record{
		ID:             a.ID,
		ThermalImageID: a.ThermalImageID,
		TransformerID:  a.TransformerID,
		DetectionID:    a.DetectionID,
		AnnotationType: a.AnnotationType,
		DetectionClass: a.DetectionClass,
		Confidence:     a.Confidence,
		X:              a.X,
		Y:              a.Y,
		Width:          a.Width,
		Height:         a.Height,
		Comments:       a.Comments,
		IsDeleted:      a.IsDeleted,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
		ModifiedBy:     a.ModifiedBy,
		ModifiedAt:     a.ModifiedAt,
	}
}

// Records converts a slice of annotations.
func Records(list []entities.Annotation) []Record {
	out := make([]Record, 0, len(list))
	for i := range list {
		out = append(out, RecordFrom(&list[i]))
	}
	return out
}
