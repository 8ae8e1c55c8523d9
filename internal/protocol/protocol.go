// Package protocol defines the messages exchanged between the coordinator and its
// workers, and the newline-delimited JSON codec used to carry them across a
// process boundary.
package protocol

import (
	"encoding/json"
)

// Record is a single raw row: field name to value, where a nil value is null.
type Record map[string]*string

// ErrorKind classifies a failed task.
type ErrorKind string

const (
	// Reported by workers.
	KindValidation        ErrorKind = "validation"
	KindExecution         ErrorKind = "execution"
	KindResourceExhausted ErrorKind = "resource_exhausted"

	// Synthesized by the coordinator.
	KindTimeout          ErrorKind = "timeout"
	KindWorkerTerminated ErrorKind = "worker_terminated"
	KindTransport        ErrorKind = "transport"
	KindProtocol         ErrorKind = "protocol"
)

// Request carries one batch from the coordinator to a worker.
// Items is kept raw so the worker validates its shape on its own copy.
type Request struct {
	ID    string          `json:"id"`
	Items json.RawMessage `json:"items"`
}

// NewRequest encodes records into a Request.
func NewRequest(id string, records []Record) (Request, error) {
	if records == nil {
		records = []Record{}
	}
	items, err := json.Marshal(records)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Items: items}, nil
}

// Response is sent by a worker for every request that carried an id.
// Exactly one of the count pair or Error is set; Ready marks the one-off
// handshake a worker sends once its sink connection is up.
type Response struct {
	ID             string    `json:"id,omitempty"`
	ProcessedCount *int      `json:"processedCount,omitempty"`
	SkippedCount   *int      `json:"skippedCount,omitempty"`
	Error          string    `json:"error,omitempty"`
	Kind           ErrorKind `json:"kind,omitempty"`
	Ready          bool      `json:"ready,omitempty"`
}

// Success builds a successful task response.
func Success(id string, processed, skipped int) Response {
	return Response{ID: id, ProcessedCount: &processed, SkippedCount: &skipped}
}

// Failure builds a failed task response. An empty message is replaced by the
// kind so the response still reads as a failure.
func Failure(id string, kind ErrorKind, message string) Response {
	if message == "" {
		message = string(kind)
	}
	if message == "" {
		message = string(KindExecution)
	}
	return Response{ID: id, Error: message, Kind: kind}
}

// Ready builds the worker handshake.
func Ready() Response {
	return Response{Ready: true}
}

// IsError reports whether the response describes a failed task.
func (r Response) IsError() bool {
	return r.Error != "" || r.Kind != ""
}

// Counts returns the processed and skipped counts, zero when absent.
func (r Response) Counts() (processed, skipped int) {
	if r.ProcessedCount != nil {
		processed = *r.ProcessedCount
	}
	if r.SkippedCount != nil {
		skipped = *r.SkippedCount
	}
	return processed, skipped
}

// String returns a pointer to s, for building records.
func String(s string) *string {
	return &s
}
