// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"wwebkit/internal/media"
	"wwebkit/internal/resilience"
)

// pageObject is the helper object the web client page exposes
const pageObject = "window.WWebJS"

// CDPPage evaluates page helpers over the DevTools protocol of the browser
// that runs the web client
type CDPPage struct {
	tabCtx      context.Context
	// the tab context is released with the allocator; cancelling it on its
	// own would close the client's tab
	cancelAlloc context.CancelFunc
	timeout     time.Duration
	closeOnce   sync.Once
}

// DialCDP attaches to the first tab whose URL starts with urlPrefix on the
// browser behind the DevTools websocket wsURL
func DialCDP(ctx context.Context, wsURL, urlPrefix string, timeout time.Duration) (*CDPPage, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	targets, err := runWithContext(ctx, func() ([]*target.Info, error) {
		return chromedp.Targets(browserCtx)
	})
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("listing browser targets: %w", err)
	}

	info := findPage(targets, urlPrefix)
	if info == nil {
		cancelBrowser()
		cancelAlloc()
		return nil, resilience.NewPageNotFoundError(urlPrefix)
	}

	tabCtx, _ := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
	release := func() {
		cancelBrowser()
		cancelAlloc()
	}
	return &CDPPage{tabCtx: tabCtx, cancelAlloc: release, timeout: timeout}, nil
}

func findPage(targets []*target.Info, urlPrefix string) *target.Info {
	for _, t := range targets {
		if t.Type == "page" && strings.HasPrefix(t.URL, urlPrefix) {
			return t
		}
	}
	return nil
}

// RejectCall implements Page
func (p *CDPPage) RejectCall(ctx context.Context, from, id string) (json.RawMessage, error) {
	expr, err := rejectCallExpr(from, id)
	if err != nil {
		return nil, err
	}
	return p.evaluate(ctx, MethodRejectCall, expr)
}

// ImageToStickerData implements Page
func (p *CDPPage) ImageToStickerData(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error) {
	expr, err := toStickerDataExpr(m)
	if err != nil {
		return nil, err
	}
	raw, err := p.evaluate(ctx, MethodToStickerData, expr)
	if err != nil {
		return nil, err
	}
	return stickerResult(raw)
}

// Close detaches from the browser
func (p *CDPPage) Close() error {
	p.closeOnce.Do(p.cancelAlloc)
	return nil
}

func (p *CDPPage) evaluate(ctx context.Context, method, expr string) (json.RawMessage, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	raw, err := runWithContext(ctx, func() (json.RawMessage, error) {
		var res []byte
		err := chromedp.Run(p.tabCtx, chromedp.Evaluate(expr, &res, awaitPromise))
		return res, err
	})
	if err != nil {
		var exc *runtime.ExceptionDetails
		if errors.As(err, &exc) {
			return nil, &PageError{Method: method, Message: exc.Error()}
		}
		return nil, fmt.Errorf("evaluating %s: %w", method, err)
	}
	return raw, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true).WithReturnByValue(true)
}

// runWithContext runs fn and gives up waiting when ctx ends. chromedp ties
// its calls to the tab context, not the caller's.
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func rejectCallExpr(from, id string) (string, error) {
	return callExpr("rejectCall", from, id)
}

func toStickerDataExpr(m media.MediaPayload) (string, error) {
	return callExpr("toStickerData", m)
}

// callExpr renders pageObject.fn(args...) with JSON encoded arguments
func callExpr(fn string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d of %s: %w", i, fn, err)
		}
		parts[i] = string(b)
	}
	return fmt.Sprintf("%s.%s(%s)", pageObject, fn, strings.Join(parts, ", ")), nil
}
