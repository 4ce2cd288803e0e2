// Package label turns a reviewer's annotations into stored labels.
//
// Annotations arrive as a table of (user_id, cluster_id, label) rows where
// label is "Yes" (bot) or "No" (not bot). For every cluster in the table the
// majority vote is written to all members, then each annotated user gets
// their own label back.
package label

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hurttlocker/botlabel/internal/store"
)

// Annotation values as submitted by the reviewer.
const (
	AnswerYes = "Yes"
	AnswerNo  = "No"
)

// ErrInvalidLabel is returned for an annotation label other than Yes or No.
var ErrInvalidLabel = errors.New("invalid annotation label")

// Annotation is one manually reviewed user.
type Annotation struct {
	UserID    string `json:"user_id"`
	ClusterID int64  `json:"cluster_id"`
	Label     string `json:"label"`
}

// ParseAnswer maps "Yes"/"No" (case-insensitive) to a stored label.
func ParseAnswer(s string) (store.Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return store.LabelBot, nil
	case "no":
		return store.LabelNotBot, nil
	default:
		return store.LabelUnassigned, fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidLabel, s, AnswerYes, AnswerNo)
	}
}

// Validate checks every row without touching storage.
func Validate(anns []Annotation) error {
	for i, a := range anns {
		if strings.TrimSpace(a.UserID) == "" {
			return fmt.Errorf("annotation %d: empty user_id", i)
		}
		if _, err := ParseAnswer(a.Label); err != nil {
			return fmt.Errorf("annotation %d (user %q): %w", i, a.UserID, err)
		}
	}
	return nil
}

// ParseCSV reads an annotation table with a header row naming user_id,
// cluster_id and label in any order. Extra columns are ignored.
func ParseCSV(r io.Reader) ([]Annotation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := map[string]int{"user_id": -1, "cluster_id": -1, "label": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	for name, idx := range cols {
		if idx < 0 {
			return nil, fmt.Errorf("CSV header missing %q column", name)
		}
	}

	var anns []Annotation
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("parsing CSV line %d: %w", line, err)
		}

		field := func(name string) string {
			idx := cols[name]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		clusterID, err := strconv.ParseInt(field("cluster_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CSV line %d: invalid cluster_id %q", line, field("cluster_id"))
		}
		anns = append(anns, Annotation{
			UserID:    field("user_id"),
			ClusterID: clusterID,
			Label:     field("label"),
		})
	}
	return anns, nil
}

// ParseJSON reads an annotation table encoded as a single array of
// objects. Data after the array is rejected.
func ParseJSON(r io.Reader) ([]Annotation, error) {
	dec := json.NewDecoder(r)
	var anns []Annotation
	if err := dec.Decode(&anns); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid JSON annotations: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON annotations: unexpected data after the array (offset %d)", dec.InputOffset())
	}
	return anns, nil
}
