package roboflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// Class ids used for YOLO export and the annotate labelmap.
var classIDs = map[string]int{
	"faulty":             0,
	"potentially_faulty": 1,
	"normal":             2,
}

// Default canvas size when there are no annotations to infer it from.
const (
	defaultImageWidth  = 1024.0
	defaultImageHeight = 768.0
)

// ClassID maps a detection class to its YOLO class id; unknown classes map to 0.
func ClassID(class string) int {
	return classIDs[class]
}

// Labelmap returns the id→class map sent with annotations.
func Labelmap() map[string]string {
	m := make(map[string]string, len(classIDs))
	for class, id := range classIDs {
		m[strconv.Itoa(id)] = class
	}
	return m
}

// ExportYOLO renders annotations as YOLO text lines
// "<class> <x_center> <y_center> <width> <height>". Box x/y are the top-left
// corner; coordinates are normalized by the largest box extent, which stands
// in for the image size.
func ExportYOLO(annotations []entities.Annotation) string {
	maxX, maxY := defaultImageWidth, defaultImageHeight
	if len(annotations) > 0 {
		maxX, maxY = 0, 0
		for i := range annotations {
			a := &annotations[i]
			maxX = max(maxX, a.X+a.Width)
			maxY = max(maxY, a.Y+a.Height)
		}
	}
	// Degenerate boxes would otherwise divide by zero.
	if maxX <= 0 {
		maxX = defaultImageWidth
	}
	if maxY <= 0 {
		maxY = defaultImageHeight
	}

	var b strings.Builder
	for i := range annotations {
		a := &annotations[i]
		fmt.Fprintf(&b, "%d %.6f %.6f %.6f %.6f\n",
			ClassID(a.DetectionClass),
			(a.X+a.Width/2)/maxX,
			(a.Y+a.Height/2)/maxY,
			a.Width/maxX,
			a.Height/maxY)
	}
	return b.String()
}

// annotationName derives "<base>.txt" from an image file name.
func annotationName(imageName string) string {
	if dot := strings.LastIndex(imageName, "."); dot > 0 {
		imageName = imageName[:dot]
	}
	return imageName + ".txt"
}
