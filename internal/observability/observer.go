// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StandardObserver records timed operations of the sticker pipeline and the bridge
type StandardObserver struct {
	level         ObservabilityLevel
	writer        io.Writer
	mu            sync.Mutex
	DebugObserver *DebugObserver // Reference to debug observer when in debug mode
}

type ObservabilityLevel int

const (
	ObservabilityOff     ObservabilityLevel = 0
	ObservabilityMetrics ObservabilityLevel = 1
	ObservabilityDebug   ObservabilityLevel = 2
)

// NewStandardObserver creates observability component
func NewStandardObserver(level ObservabilityLevel, writer io.Writer) *StandardObserver {
	if writer == nil {
		level = ObservabilityOff
	}
	return &StandardObserver{
		level:  level,
		writer: writer,
	}
}

// Nop returns an observer that drops everything, warnings included
func Nop() *StandardObserver {
	return NewStandardObserver(ObservabilityOff, nil)
}

// WarningsOnly returns an observer that records no operations but still
// writes warnings to stderr
func WarningsOnly() *StandardObserver {
	return NewStandardObserver(ObservabilityOff, os.Stderr)
}

// Level returns the configured level
func (o *StandardObserver) Level() ObservabilityLevel {
	if o == nil {
		return ObservabilityOff
	}
	return o.level
}

// StartTiming returns a function to complete timing
func (o *StandardObserver) StartTiming(component, operation, subject string) func(err error, metadata map[string]interface{}) {
	start := time.Now()

	return func(err error, metadata map[string]interface{}) {
		data := StandardObservabilityData{
			Component:  component,
			Operation:  operation,
			Subject:    subject,
			DurationMs: time.Since(start).Milliseconds(),
			Success:    err == nil,
			Metadata:   metadata,
		}
		if err != nil {
			data.Error = err.Error()
		}

		o.LogOperation(data)
	}
}

// LogOperation logs operation data
func (o *StandardObserver) LogOperation(data StandardObservabilityData) {
	if o == nil || o.level == ObservabilityOff {
		return
	}

	data.RequestID = "req-" + uuid.NewString()[:8]

	// Only log JSON in debug mode, failures are always written
	if o.level == ObservabilityDebug || !data.Success {
		o.write(data)
	}
}

func (o *StandardObserver) write(data StandardObservabilityData) {
	o.mu.Lock()
	defer o.mu.Unlock()
	json.NewEncoder(o.writer).Encode(data)
}

// Warn records a non-fatal condition that must not be silently dropped
func (o *StandardObserver) Warn(component, operation, subject string, err error) {
	data := StandardObservabilityData{
		Component: component,
		Operation: operation,
		Subject:   subject,
		Success:   false,
	}
	if err != nil {
		data.Error = err.Error()
	}
	o.LogOperation(data)
}

// StandardObservabilityData for all components
type StandardObservabilityData struct {
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	RequestID   string                 `json:"request_id"`
	Subject     string                 `json:"subject,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	InputBytes  int                    `json:"input_bytes,omitempty"`
	OutputBytes int                    `json:"output_bytes,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
