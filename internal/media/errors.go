// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the kind of failure a sticker stage hit
type ErrorType string

const (
	// Dispatch errors
	ErrorTypeUnsupportedMedia ErrorType = "unsupported_media"
	ErrorTypeInvalidPayload   ErrorType = "invalid_payload"

	// Stage errors
	ErrorTypeTranscode ErrorType = "transcode_failed"
	ErrorTypeEmbed     ErrorType = "embed_failed"

	ErrorTypeCancelled ErrorType = "cancelled"
)

// Message used when dispatch finds no image or video family
const unsupportedMessage = "media is not a supported image or video format"

// MediaProcessingError describes a failed normalization stage
type MediaProcessingError struct {
	MimeType  string
	Stage     string
	ErrorType ErrorType
	Message   string
	Cause     error
}

// Error implements the error interface
func (mpe *MediaProcessingError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("sticker %s failed", mpe.Stage))

	if mpe.MimeType != "" {
		parts = append(parts, fmt.Sprintf("type=%s", mpe.MimeType))
	}

	parts = append(parts, fmt.Sprintf("error=%s", mpe.ErrorType))

	if mpe.Message != "" {
		parts = append(parts, fmt.Sprintf("message=%s", mpe.Message))
	}

	if mpe.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", mpe.Cause))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error
func (mpe *MediaProcessingError) Unwrap() error {
	return mpe.Cause
}

// NewUnsupportedMediaError reports media the pipeline cannot turn into a sticker
func NewUnsupportedMediaError(mimeType string, cause error) *MediaProcessingError {
	return &MediaProcessingError{
		MimeType:  mimeType,
		Stage:     "dispatch",
		ErrorType: ErrorTypeUnsupportedMedia,
		Message:   unsupportedMessage,
		Cause:     cause,
	}
}

// NewTranscodeError wraps a failure signalled by the external transcoder
func NewTranscodeError(mimeType string, cause error) *MediaProcessingError {
	errorType := ErrorTypeTranscode
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		errorType = ErrorTypeCancelled
	}
	return &MediaProcessingError{
		MimeType:  mimeType,
		Stage:     "transcode",
		ErrorType: errorType,
		Message:   "video transcode failed",
		Cause:     cause,
	}
}

// NewEmbedError wraps a failure while writing the metadata block
func NewEmbedError(message string, cause error) *MediaProcessingError {
	return &MediaProcessingError{
		MimeType:  MimeTypeWebP,
		Stage:     "embed",
		ErrorType: ErrorTypeEmbed,
		Message:   message,
		Cause:     cause,
	}
}

// NewInvalidPayloadError reports payload data that cannot be decoded
func NewInvalidPayloadError(mimeType, message string, cause error) *MediaProcessingError {
	return &MediaProcessingError{
		MimeType:  mimeType,
		Stage:     "decode",
		ErrorType: ErrorTypeInvalidPayload,
		Message:   message,
		Cause:     cause,
	}
}

// IsUnsupportedMedia reports whether err was raised for an unsupported mimetype
func IsUnsupportedMedia(err error) bool {
	return hasType(err, ErrorTypeUnsupportedMedia)
}

// IsTranscodeError reports whether err came from the transcode stage,
// including cancellation of the transcoder through its context.
func IsTranscodeError(err error) bool {
	var mpe *MediaProcessingError
	if !errors.As(err, &mpe) {
		return false
	}
	return mpe.Stage == "transcode"
}

func hasType(err error, errorType ErrorType) bool {
	var mpe *MediaProcessingError
	if !errors.As(err, &mpe) {
		return false
	}
	return mpe.ErrorType == errorType
}
