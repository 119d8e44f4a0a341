// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package bridge reaches the automated web client page. Two transports are
// provided: a direct DevTools attachment to the browser running the client
// (CDPPage) and a websocket relay to a process that owns the page (RelayPage).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wwebkit/internal/config"
	"wwebkit/internal/media"
	"wwebkit/internal/observability"
	"wwebkit/internal/resilience"
)

// Page is the subset of the web client page the library depends on
type Page interface {
	// RejectCall asks the page to reject a call; the page's result is returned verbatim
	RejectCall(ctx context.Context, from, id string) (json.RawMessage, error)
	// ImageToStickerData converts a still image to sticker WebP data in the page
	ImageToStickerData(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error)
	// Close releases the transport. The page itself stays open.
	Close() error
}

// Page side method names
const (
	MethodRejectCall    = "rejectCall"
	MethodToStickerData = "toStickerData"
)

var ErrNoBridge = errors.New("bridge: no bridge mode configured")

// PageError is an exception raised inside the page
type PageError struct {
	Method  string
	Message string
	Code    string
}

func (e *PageError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("page %s failed [%s]: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("page %s failed: %s", e.Method, e.Message)
}

// Open connects to the page with the transport selected by cfg.Mode.
// Connection establishment is retried cfg.Retries times on transient errors.
func Open(ctx context.Context, cfg config.BridgeConfig, observer *observability.StandardObserver) (Page, error) {
	if observer == nil {
		observer = observability.Nop()
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.Retries
	retry.OnRetry = func(attempt int, err error) {
		observer.Detail("bridge", fmt.Sprintf("connect attempt %d after: %v", attempt+1, err))
	}

	done := observer.StartTiming("bridge", "open", cfg.Mode)
	var (
		page Page
		err  error
	)
	switch cfg.Mode {
	case config.BridgeModeCDP:
		page, err = resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (Page, error) {
			return DialCDP(ctx, cfg.URL, cfg.PageURLPrefix, cfg.Timeout)
		})
	case config.BridgeModeRelay:
		page, err = resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (Page, error) {
			return DialRelay(ctx, cfg.URL, cfg.Timeout)
		})
	case config.BridgeModeNone:
		err = ErrNoBridge
	default:
		err = fmt.Errorf("bridge: unknown mode %q", cfg.Mode)
	}
	done(err, map[string]interface{}{"url": cfg.URL})

	if err != nil {
		return nil, err
	}
	return page, nil
}

// stickerResult decodes the page's answer to toStickerData. A null answer
// means the page could not convert the image.
func stickerResult(raw json.RawMessage) (*media.MediaPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out media.MediaPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding sticker data: %w", err)
	}
	if out.Data == "" {
		return nil, nil
	}
	return &out, nil
}
