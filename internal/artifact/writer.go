// Package artifact writes the raw and structured result files for a run.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/execution-probe/internal/probe"
	"github.com/JakeFAU/execution-probe/internal/storage"
)

// TimestampLayout formats the run time inside file names.
const TimestampLayout = "20060102_150405"

const contentType = "application/json"

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Object describes one written file.
type Object struct {
	Name   string
	URI    string
	Bytes  int
	SHA256 string
}

// Result lists the files written for one run. Structured is nil when the
// run produced no checkpoint tree.
type Result struct {
	Raw        Object
	Structured *Object
}

// Writer encodes aggregates and hands them to a blob store.
type Writer struct {
	store  storage.BlobStore
	hasher Hasher
}

// NewWriter builds a Writer.
func NewWriter(store storage.BlobStore, hasher Hasher) (*Writer, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	return &Writer{store: store, hasher: hasher}, nil
}

// RawName returns the raw dump file name for execution at t.
func RawName(executionID probe.Identifier, t time.Time) string {
	return fmt.Sprintf("execution_%s_raw_%s.json", executionID, t.Format(TimestampLayout))
}

// StructuredName returns the structured file name for execution at t.
func StructuredName(executionID probe.Identifier, t time.Time) string {
	return fmt.Sprintf("execution_%s_structured_%s.json", executionID, t.Format(TimestampLayout))
}

// Write stores the full aggregate, then the checkpoint tree if there is one.
// Both names share the timestamp at.
func (w *Writer) Write(ctx context.Context, agg *probe.Aggregate, at time.Time) (Result, error) {
	if agg == nil {
		return Result{}, errors.New("aggregate is required")
	}
	exec := agg.Identifiers().ExecutionID

	raw, err := w.put(ctx, RawName(exec, at), agg)
	if err != nil {
		return Result{}, fmt.Errorf("write raw results: %w", err)
	}
	res := Result{Raw: raw}
	if !agg.HasStructured() {
		return res, nil
	}
	structured, err := w.put(ctx, StructuredName(exec, at), agg.StructuredData)
	if err != nil {
		return res, fmt.Errorf("write structured results: %w", err)
	}
	res.Structured = &structured
	return res, nil
}

func (w *Writer) put(ctx context.Context, name string, v any) (Object, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Object{}, fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	sum, err := w.hasher.Hash(data)
	if err != nil {
		return Object{}, fmt.Errorf("hash %s: %w", name, err)
	}
	uri, err := w.store.PutObject(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		return Object{}, err
	}
	return Object{Name: name, URI: uri, Bytes: len(data), SHA256: sum}, nil
}
