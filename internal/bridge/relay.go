// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wwebkit/internal/media"
)

var ErrRelayClosed = errors.New("bridge: relay connection closed")

type relayRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type relayResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *relayError     `json:"error,omitempty"`
}

type relayError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type rejectCallParams struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// RelayPage talks to a process that owns the web client page over a
// websocket. Requests are matched to responses by id, so calls may overlap.
type RelayPage struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan relayResponse
	closed    bool
	closeErr  error

	done chan struct{}
}

// DialRelay connects to the relay endpoint at url
func DialRelay(ctx context.Context, url string, timeout time.Duration) (*RelayPage, error) {
	dialer := *websocket.DefaultDialer
	if timeout > 0 {
		dialer.HandshakeTimeout = timeout
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay %s: %w", url, err)
	}
	return newRelayPage(conn, timeout), nil
}

func newRelayPage(conn *websocket.Conn, timeout time.Duration) *RelayPage {
	p := &RelayPage{
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan relayResponse),
		done:    make(chan struct{}),
	}
	go p.listen()
	return p
}

// RejectCall implements Page
func (p *RelayPage) RejectCall(ctx context.Context, from, id string) (json.RawMessage, error) {
	return p.call(ctx, MethodRejectCall, rejectCallParams{From: from, ID: id})
}

// ImageToStickerData implements Page
func (p *RelayPage) ImageToStickerData(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error) {
	raw, err := p.call(ctx, MethodToStickerData, m)
	if err != nil {
		return nil, err
	}
	return stickerResult(raw)
}

// Close shuts the connection down and fails every call still waiting
func (p *RelayPage) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	p.writeMu.Unlock()

	err := p.conn.Close()
	<-p.done
	return err
}

func (p *RelayPage) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan relayResponse, 1)

	p.pendingMu.Lock()
	if p.closed {
		err := p.closeErr
		p.pendingMu.Unlock()
		return nil, err
	}
	p.pending[id] = ch
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	data, err := json.Marshal(relayRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	p.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
	} else {
		_ = p.conn.SetWriteDeadline(time.Time{})
	}
	err = p.conn.WriteMessage(websocket.TextMessage, data)
	p.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending %s request: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, p.closeErr
		}
		if resp.Error != nil {
			return nil, &PageError{Method: method, Message: resp.Error.Message, Code: resp.Error.Code}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", method, ctx.Err())
	}
}

// listen routes responses to waiting callers until the connection fails
func (p *RelayPage) listen() {
	defer close(p.done)

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			p.failPending(err)
			return
		}

		var resp relayResponse
		if err := json.Unmarshal(message, &resp); err != nil || resp.ID == "" {
			continue
		}

		p.pendingMu.Lock()
		ch, ok := p.pending[resp.ID]
		p.pendingMu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (p *RelayPage) failPending(cause error) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	p.closed = true
	p.closeErr = ErrRelayClosed
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure) && !errors.Is(cause, websocket.ErrCloseSent) {
		p.closeErr = fmt.Errorf("%w: %v", ErrRelayClosed, cause)
	}
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}
