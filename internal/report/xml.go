// Package report renders a finished batch as a structured XML document:
// one summary element plus one study element per outcome.
package report

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/medphys/bulkcbct/internal/domain/batches"
)

// ErrAggregateMismatch indicates the batch counts disagree with its
// outcomes. That is an upstream invariant break; emission fails loudly
// instead of papering over it.
var ErrAggregateMismatch = errors.New("batch counts do not match outcomes")

type xmlDocument struct {
	XMLName xml.Name   `xml:"cbct_batch_report"`
	ID      string     `xml:"id,attr"`
	Summary xmlSummary `xml:"summary"`
	Studies []xmlStudy `xml:"study"`
}

type xmlSummary struct {
	Phantom      string `xml:"phantom"`
	TotalStudies int    `xml:"total_studies"`
	SuccessCount int    `xml:"success_count"`
	FailureCount int    `xml:"failure_count"`
	StartedAt    string `xml:"started_at"`
	FinishedAt   string `xml:"finished_at"`
	DurationMS   int64  `xml:"duration_ms"`
}

type xmlStudy struct {
	Path       string      `xml:"path,attr"`
	Status     string      `xml:"status"`
	DurationMS int64       `xml:"duration_ms"`
	Metrics    *xmlMetrics `xml:"metrics,omitempty"`
	Error      *xmlError   `xml:"error,omitempty"`
}

type xmlMetrics struct {
	Metrics []xmlMetric `xml:"metric"`
}

type xmlMetric struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlError struct {
	Kind    string `xml:"kind,attr"`
	Message string `xml:",chardata"`
}

// Render produces the XML report for a batch. Output is byte-identical
// across calls for the same batch: metric keys are sorted, timestamps are
// normalised to UTC RFC 3339, and floats use the shortest round-trip form.
func Render(b *batches.Batch) ([]byte, error) {
	if b.SuccessCount+b.FailureCount != len(b.Outcomes) {
		return nil, fmt.Errorf("%w: success=%d failure=%d outcomes=%d",
			ErrAggregateMismatch, b.SuccessCount, b.FailureCount, len(b.Outcomes))
	}

	doc := xmlDocument{
		ID: string(b.ID),
		Summary: xmlSummary{
			Phantom:      string(b.Phantom),
			TotalStudies: len(b.Outcomes),
			SuccessCount: b.SuccessCount,
			FailureCount: b.FailureCount,
			StartedAt:    b.StartedAt.UTC().Format(time.RFC3339Nano),
			FinishedAt:   b.FinishedAt.UTC().Format(time.RFC3339Nano),
			DurationMS:   b.Duration().Milliseconds(),
		},
	}

	for _, o := range b.Outcomes {
		study := xmlStudy{
			Path:       o.StudyPath,
			Status:     string(o.Status),
			DurationMS: o.DurationMS,
		}
		if o.Status == batches.StatusSuccess {
			study.Metrics = renderMetrics(o.Metrics)
		} else {
			study.Error = &xmlError{Kind: string(o.ErrorKind), Message: o.ErrorMessage}
		}
		doc.Studies = append(doc.Studies, study)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// WriteXML renders b and writes the document to w.
func WriteXML(w io.Writer, b *batches.Batch) error {
	doc, err := Render(b)
	if err != nil {
		return err
	}
	_, err = w.Write(doc)
	return err
}

func renderMetrics(m batches.Metrics) *xmlMetrics {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &xmlMetrics{Metrics: make([]xmlMetric, 0, len(keys))}
	for _, k := range keys {
		out.Metrics = append(out.Metrics, xmlMetric{Name: k, Value: formatValue(m[k])})
	}
	return out
}

// formatValue renders a metric value deterministically. Composite values
// fall back to canonical JSON, which sorts map keys.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
