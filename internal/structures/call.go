// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package structures maps the loosely shaped objects harvested from the web
// client page into typed, documented values.
package structures

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// CallRejecter is the page side action a Call delegates to
type CallRejecter interface {
	RejectCall(ctx context.Context, from, id string) (json.RawMessage, error)
}

// CallField names a logical field of a Call
type CallField string

const (
	CallID                    CallField = "id"
	CallFrom                  CallField = "from"
	CallTimestamp             CallField = "timestamp"
	CallIsVideo               CallField = "isVideo"
	CallIsGroup               CallField = "isGroup"
	CallFromMe                CallField = "fromMe"
	CallCanHandleLocally      CallField = "canHandleLocally"
	CallWebClientShouldHandle CallField = "webClientShouldHandle"
	CallState                 CallField = "state"
	CallParticipants          CallField = "participants"
)

// CallFieldAliases lists, per logical field, the raw key paths to try in
// priority order. Newer page builds expose the __x_ prefixed names.
var CallFieldAliases = map[CallField][]string{
	CallID:                    {"__x_id", "id"},
	CallFrom:                  {"__x_peerJid._serialized", "peerJid._serialized", "peerJid"},
	CallTimestamp:             {"__x_offerTime", "offerTime"},
	CallIsVideo:               {"__x_isVideo", "isVideo"},
	CallIsGroup:               {"__x_isGroup", "isGroup"},
	CallFromMe:                {"__x_outgoing", "outgoing"},
	CallCanHandleLocally:      {"__x_canHandleLocally", "canHandleLocally"},
	CallWebClientShouldHandle: {"webClientShouldHandle"},
	CallState:                 {"__x__state", "_state"},
	CallParticipants:          {"participants"},
}

// Call is a snapshot of an incoming or outgoing call
type Call struct {
	// ID of the call
	ID string `json:"id"`
	// From is the serialized address of the peer
	From string `json:"from"`
	// Timestamp is the Unix time (seconds) the call was offered
	Timestamp int64 `json:"timestamp"`
	IsVideo   bool  `json:"isVideo"`
	IsGroup   bool  `json:"isGroup"`
	// FromMe is set for calls placed by the current user
	FromMe bool `json:"fromMe"`
	// CanHandleLocally reports whether the web client can take the call
	CanHandleLocally bool `json:"canHandleLocally"`
	// WebClientShouldHandle reports whether the web client should take the call
	WebClientShouldHandle bool   `json:"webClientShouldHandle"`
	State                 string `json:"state"`
	// Participants is passed through untouched
	Participants any `json:"participants,omitempty"`

	page    CallRejecter
	present map[CallField]bool
}

// NewCall maps a raw call object. A nil data leaves every field unset.
func NewCall(page CallRejecter, data map[string]any) *Call {
	c := &Call{page: page, present: map[CallField]bool{}}
	if data != nil {
		c.Patch(data)
	}
	return c
}

// ParseCall decodes a raw call object from JSON and maps it
func ParseCall(page CallRejecter, raw []byte) (*Call, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding call object: %w", err)
	}
	return NewCall(page, data), nil
}

// Patch overwrites every field from a fresh snapshot. Fields missing from
// data are reset, nothing from the previous snapshot survives.
func (c *Call) Patch(data map[string]any) *Call {
	present := make(map[CallField]bool, len(CallFieldAliases))
	get := func(f CallField) any {
		v, ok := firstPresent(data, CallFieldAliases[f])
		present[f] = ok
		return v
	}

	c.ID = asString(get(CallID))
	c.From = asString(get(CallFrom))
	c.Timestamp = asInt64(get(CallTimestamp))
	c.IsVideo = truthy(get(CallIsVideo))
	c.IsGroup = truthy(get(CallIsGroup))
	c.FromMe = truthy(get(CallFromMe))
	c.CanHandleLocally = truthy(get(CallCanHandleLocally))
	c.WebClientShouldHandle = truthy(get(CallWebClientShouldHandle))
	c.State = asString(get(CallState))
	c.Participants = get(CallParticipants)
	c.present = present
	return c
}

// Has reports whether the last snapshot carried a value for field
func (c *Call) Has(field CallField) bool {
	return c.present[field]
}

// Reject asks the page to reject the call. The page's answer is returned as is.
func (c *Call) Reject(ctx context.Context) (json.RawMessage, error) {
	if c.page == nil {
		return nil, fmt.Errorf("call %s: no page attached", c.ID)
	}
	return c.page.RejectCall(ctx, c.From, c.ID)
}
