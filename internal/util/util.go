// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package util holds small stateless helpers shared by the sticker pipeline,
// the configuration loader and the CLI.
package util

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

const hashAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// InvalidColorError is returned by AssertColor for values it cannot interpret
type InvalidColorError struct {
	Value any
}

func (e *InvalidColorError) Error() string {
	return fmt.Sprintf("invalid color: %v (%T)", e.Value, e.Value)
}

// GenerateHash returns a random alphanumeric token of the given length
func GenerateHash(length int) string {
	var sb strings.Builder
	sb.Grow(length)
	limit := big.NewInt(int64(len(hashAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		sb.WriteByte(hashAlphabet[n.Int64()])
	}
	return sb.String()
}

// MergeDefault fills given with every key of defaults that given lacks or
// holds as nil. Nested maps present on both sides are merged recursively.
// given is modified in place and returned; a nil given yields defaults.
func MergeDefault(defaults, given map[string]any) map[string]any {
	if given == nil {
		return defaults
	}
	for key, def := range defaults {
		cur, ok := given[key]
		if !ok || cur == nil {
			given[key] = def
			continue
		}
		curMap, curIsMap := cur.(map[string]any)
		defMap, defIsMap := def.(map[string]any)
		if curIsMap && defIsMap {
			given[key] = MergeDefault(defMap, curMap)
		}
	}
	return given
}

// AssertColor normalises a color expression into a 32-bit ARGB value.
//
// Any integer or integral float kind is accepted.
// Negative numbers are reinterpreted as their unsigned two's complement.
// Strings are hex with an optional leading '#'; up to six digits get an
// opaque FF alpha prepended, and three digit CSS shorthand is expanded first.
func AssertColor(value any) (uint32, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return colorFromInt(rv.Int(), value)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > 0xFFFFFFFF {
			return 0, &InvalidColorError{Value: value}
		}
		return uint32(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f < -0xFFFFFFFF || f > 0xFFFFFFFF || f != math.Trunc(f) {
			return 0, &InvalidColorError{Value: value}
		}
		return colorFromInt(int64(f), value)
	case reflect.String:
		return colorFromHex(rv.String())
	default:
		return 0, &InvalidColorError{Value: value}
	}
}

func colorFromInt(n int64, orig any) (uint32, error) {
	if n < 0 {
		n = 0xFFFFFFFF + n + 1
	}
	if n < 0 || n > 0xFFFFFFFF {
		return 0, &InvalidColorError{Value: orig}
	}
	return uint32(n), nil
}

func colorFromHex(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) <= 6 {
		hex = "FF" + strings.Repeat("0", 6-len(hex)) + hex
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, &InvalidColorError{Value: s}
	}
	return uint32(n), nil
}
