package gimbal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Frame is one camera frame with its overlay annotations.
type Frame struct {
	Image     []byte
	Boxes     []Box
	Lines     []Line
	Polygons  [][]Point
	Keypoints []Skeleton
	Classes   []Class
}

// Point is an image coordinate.
type Point struct {
	X, Y float64
}

// Box is a detection: [x, y, w, h, score, target].
type Box struct {
	X, Y, W, H float64
	Score      float64
	Target     int
}

// Line is a polyline segment: [x1, y1, x2, y2].
type Line struct {
	From, To Point
}

// Skeleton is a keypoint set with its enclosing box.
type Skeleton struct {
	Box    Box
	Points []Point
}

// Class is a per-frame classification banner: [score, target].
type Class struct {
	Score  float64
	Target int
}

// FrameReceiver consumes decoded frames. There is one per session.
type FrameReceiver func(Frame)

type wireFrame struct {
	Image     string        `json:"image"`
	Boxes     [][]float64   `json:"boxes"`
	Lines     [][]float64   `json:"lines"`
	Polygons  [][][]float64 `json:"polygons"`
	Keypoints []struct {
		Box    []float64   `json:"box"`
		Points [][]float64 `json:"points"`
	} `json:"keypoints"`
	Classes [][]float64 `json:"classes"`
}

// DecodeFrame parses a WebSocket frame. Text frames and binary frames that
// start with '{' are treated as JSON; other binary frames are raw image bytes.
func DecodeFrame(messageType int, data []byte) (Frame, error) {
	trimmed := strings.TrimSpace(string(data))
	if messageType == websocket.BinaryMessage && !strings.HasPrefix(trimmed, "{") {
		return Frame{Image: data}, nil
	}

	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}

	var f Frame
	if w.Image != "" {
		img, err := base64.StdEncoding.DecodeString(stripDataURL(w.Image))
		if err != nil {
			return Frame{}, fmt.Errorf("decoding frame image: %w", err)
		}
		f.Image = img
	}
	for _, b := range w.Boxes {
		if box, ok := toBox(b); ok {
			f.Boxes = append(f.Boxes, box)
		}
	}
	for _, l := range w.Lines {
		if len(l) == 4 {
			f.Lines = append(f.Lines, Line{From: Point{l[0], l[1]}, To: Point{l[2], l[3]}})
		}
	}
	for _, poly := range w.Polygons {
		pts := toPoints(poly)
		if len(pts) >= 3 {
			f.Polygons = append(f.Polygons, pts)
		}
	}
	for _, k := range w.Keypoints {
		box, _ := toBox(k.Box)
		f.Keypoints = append(f.Keypoints, Skeleton{Box: box, Points: toPoints(k.Points)})
	}
	for _, c := range w.Classes {
		if len(c) == 2 {
			f.Classes = append(f.Classes, Class{Score: c[0], Target: int(c[1])})
		}
	}
	return f, nil
}

func toBox(v []float64) (Box, bool) {
	if len(v) != 6 {
		return Box{}, false
	}
	return Box{X: v[0], Y: v[1], W: v[2], H: v[3], Score: v[4], Target: int(v[5])}, true
}

func toPoints(v [][]float64) []Point {
	pts := make([]Point, 0, len(v))
	for _, p := range v {
		if len(p) >= 2 {
			pts = append(pts, Point{X: p[0], Y: p[1]})
		}
	}
	return pts
}

// stripDataURL drops a "data:image/jpeg;base64," prefix if present.
func stripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}
