package sscma

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reply types.
const (
	TypeResponse = 0
	TypeEvent    = 1
	TypeLog      = 2
)

// Command and event names.
const (
	NameInfo     = "INFO"
	NameInvoke   = "INVOKE"
	NameSample   = "SAMPLE"
	NameTScore   = "TSCORE"
	NameTIoU     = "TIOU"
	NameInitStat = "INIT@STAT"
)

// Errors.
var (
	ErrMalformed = errors.New("sscma: malformed reply")
	ErrDevice    = errors.New("sscma: device error")
)

// Reply is one decoded device line.
type Reply struct {
	Type int             `json:"type"`
	Name string          `json:"name"`
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// Parse splits a payload into replies. Blank lines are skipped.
func Parse(payload []byte) ([]Reply, error) {
	var replies []Reply
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r Reply
		if err := json.Unmarshal(line, &r); err != nil {
			return replies, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		replies = append(replies, r)
	}
	return replies, nil
}

// Query builds "AT+NAME?".
func Query(name string) []byte {
	return []byte("AT+" + name + "?\r\n")
}

// Set builds "AT+NAME=a,b,c".
func Set(name string, args ...any) []byte {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case bool:
			if v {
				parts[i] = "1"
			} else {
				parts[i] = "0"
			}
		case int:
			parts[i] = strconv.Itoa(v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return []byte("AT+" + name + "=" + strings.Join(parts, ",") + "\r\n")
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Classes []string `json:"classes"`
}

// DecodeModelInfo reads an INFO response. The model description is a
// base64-encoded JSON document in data.info.
func DecodeModelInfo(data json.RawMessage) (ModelInfo, error) {
	var wrapper struct {
		Info string `json:"info"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return ModelInfo{}, fmt.Errorf("%w: info: %w", ErrMalformed, err)
	}
	if wrapper.Info == "" {
		return ModelInfo{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(wrapper.Info)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: info encoding: %w", ErrMalformed, err)
	}
	var info ModelInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ModelInfo{}, fmt.Errorf("%w: model info: %w", ErrMalformed, err)
	}
	return info, nil
}

// Result is one inference event. Boxes are [x, y, w, h, score, target],
// points [x, y, score, target], classes [score, target].
type Result struct {
	Image   string      `json:"image"`
	Boxes   [][]float64 `json:"boxes"`
	Points  [][]float64 `json:"points"`
	Classes [][]float64 `json:"classes"`
}

// DecodeResult reads an INVOKE or SAMPLE event.
func DecodeResult(data json.RawMessage) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("%w: result: %w", ErrMalformed, err)
	}
	return r, nil
}

// Count tallies detections per class id. Entries of the wrong length and
// ids outside [0, numClasses) are ignored.
func (r Result) Count(numClasses int) []int {
	counts := make([]int, numClasses)
	tally := func(rows [][]float64, width, idx int) {
		for _, row := range rows {
			if len(row) != width {
				continue
			}
			id := int(row[idx])
			if id >= 0 && id < numClasses {
				counts[id]++
			}
		}
	}
	tally(r.Boxes, 6, 5)
	tally(r.Points, 4, 3)
	tally(r.Classes, 2, 1)
	return counts
}
