// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Canonical mimetype of every sticker payload
const MimeTypeWebP = "image/webp"

// Family is the coarse class a mimetype falls into for dispatch
type Family string

const (
	FamilyWebP    Family = "webp"
	FamilyImage   Family = "image"
	FamilyVideo   Family = "video"
	FamilyUnknown Family = "unknown"
)

// MediaPayload is an in-memory media item with base64 encoded content.
// The JSON shape matches what the web client bridge sends and expects.
type MediaPayload struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// NewMediaFromBytes wraps raw bytes into a payload
func NewMediaFromBytes(mimeType string, data []byte, filename string) MediaPayload {
	return MediaPayload{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
		Filename: filename,
	}
}

// NewMediaFromFile reads a file and sniffs its mimetype from the content,
// falling back to the extension when the content is not recognised.
func NewMediaFromFile(path string) (MediaPayload, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return MediaPayload{}, fmt.Errorf("error reading media file: %w", err)
	}
	return NewMediaFromBytes(DetectMimeType(cleanPath, data), data, filepath.Base(cleanPath)), nil
}

// DetectMimeType guesses a mimetype for the given content
func DetectMimeType(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return stripParams(sniffed)
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return stripParams(byExt)
	}
	return stripParams(sniffed)
}

// Family classifies the payload. webp is checked before the generic image
// family because image/webp must never be sent through conversion.
func (m MediaPayload) Family() Family {
	mt := strings.ToLower(m.MimeType)
	switch {
	case strings.Contains(mt, "webp"):
		return FamilyWebP
	case strings.Contains(mt, "image"):
		return FamilyImage
	case strings.Contains(mt, "video"):
		return FamilyVideo
	default:
		return FamilyUnknown
	}
}

// SubType returns the part of the mimetype after the slash, without parameters
func (m MediaPayload) SubType() string {
	_, sub, ok := strings.Cut(stripParams(m.MimeType), "/")
	if !ok {
		return ""
	}
	return sub
}

// Bytes decodes the payload data. A leading data URL prefix is tolerated.
func (m MediaPayload) Bytes() ([]byte, error) {
	raw := m.Data
	if strings.HasPrefix(raw, "data:") {
		if _, rest, ok := strings.Cut(raw, ";base64,"); ok {
			raw = rest
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, NewInvalidPayloadError(m.MimeType, "payload data is not valid base64", err)
	}
	return data, nil
}

func stripParams(mimeType string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	before, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(strings.ToLower(before))
}
