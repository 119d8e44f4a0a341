// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package webpmux edits the chunk layout of WebP files: it can attach or
// replace the EXIF and XMP chunks and re-serialise the container, promoting
// simple (VP8/VP8L only) files to the extended format when needed.
package webpmux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/riff"
	"golang.org/x/image/webp"
)

var (
	fccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
	fccVP8X = riff.FourCC{'V', 'P', '8', 'X'}
	fccVP8  = riff.FourCC{'V', 'P', '8', ' '}
	fccVP8L = riff.FourCC{'V', 'P', '8', 'L'}
	fccALPH = riff.FourCC{'A', 'L', 'P', 'H'}
	fccANIM = riff.FourCC{'A', 'N', 'I', 'M'}
	fccANMF = riff.FourCC{'A', 'N', 'M', 'F'}
	fccICCP = riff.FourCC{'I', 'C', 'C', 'P'}
	fccEXIF = riff.FourCC{'E', 'X', 'I', 'F'}
	fccXMP  = riff.FourCC{'X', 'M', 'P', ' '}
)

// VP8X flag bits
const (
	flagAnimation = 0x02
	flagXMP       = 0x04
	flagEXIF      = 0x08
	flagAlpha     = 0x10
	flagICCP      = 0x20
)

const vp8xLen = 10

var (
	ErrNotWebP   = errors.New("webpmux: not a RIFF/WEBP container")
	ErrNoImage   = errors.New("webpmux: container has no image data")
	ErrBadVP8X   = errors.New("webpmux: malformed VP8X chunk")
	errEmptyData = errors.New("webpmux: empty input")
)

type chunk struct {
	id   riff.FourCC
	data []byte
}

// Image is an editable WebP container
type Image struct {
	vp8x  []byte
	iccp  []byte
	anim  []byte
	image []chunk
	exif  []byte
	xmp   []byte
	extra []chunk
}

// Load parses a WebP byte buffer into an editable container
func Load(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, errEmptyData
	}
	formType, r, err := riff.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWebP, err)
	}
	if formType != fccWEBP {
		return nil, ErrNotWebP
	}

	img := &Image{}
	for {
		id, _, chunkData, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("webpmux: reading chunk: %w", err)
		}
		payload, err := io.ReadAll(chunkData)
		if err != nil {
			return nil, fmt.Errorf("webpmux: reading %s chunk: %w", string(id[:]), err)
		}

		switch id {
		case fccVP8X:
			if len(payload) != vp8xLen {
				return nil, ErrBadVP8X
			}
			img.vp8x = payload
		case fccICCP:
			img.iccp = payload
		case fccANIM:
			img.anim = payload
		case fccVP8, fccVP8L, fccALPH, fccANMF:
			img.image = append(img.image, chunk{id: id, data: payload})
		case fccEXIF:
			img.exif = payload
		case fccXMP:
			img.xmp = payload
		default:
			img.extra = append(img.extra, chunk{id: id, data: payload})
		}
	}

	if len(img.image) == 0 {
		return nil, ErrNoImage
	}
	return img, nil
}

// EXIF returns the raw EXIF chunk payload, or nil
func (img *Image) EXIF() []byte {
	return img.exif
}

// SetEXIF replaces the EXIF chunk. A nil block removes it.
func (img *Image) SetEXIF(block []byte) {
	img.exif = block
}

// XMP returns the raw XMP chunk payload, or nil
func (img *Image) XMP() []byte {
	return img.xmp
}

// Animated reports whether the container holds an animation
func (img *Image) Animated() bool {
	if img.anim != nil {
		return true
	}
	for _, c := range img.image {
		if c.id == fccANMF {
			return true
		}
	}
	return false
}

// Canvas returns the canvas dimensions
func (img *Image) Canvas() (width, height int, err error) {
	if img.vp8x != nil {
		w, h := vp8xCanvas(img.vp8x)
		return w, h, nil
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(img.simpleBytes()))
	if err != nil {
		return 0, 0, fmt.Errorf("webpmux: decoding bitstream header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Save serialises the container
func (img *Image) Save() ([]byte, error) {
	if !img.needsExtended() {
		return img.simpleBytes(), nil
	}

	vp8x, err := img.buildVP8X()
	if err != nil {
		return nil, err
	}

	chunks := []chunk{{id: fccVP8X, data: vp8x}}
	if img.iccp != nil {
		chunks = append(chunks, chunk{id: fccICCP, data: img.iccp})
	}
	if img.anim != nil {
		chunks = append(chunks, chunk{id: fccANIM, data: img.anim})
	}
	chunks = append(chunks, img.image...)
	if img.exif != nil {
		chunks = append(chunks, chunk{id: fccEXIF, data: img.exif})
	}
	if img.xmp != nil {
		chunks = append(chunks, chunk{id: fccXMP, data: img.xmp})
	}
	chunks = append(chunks, img.extra...)

	return encode(chunks), nil
}

func (img *Image) needsExtended() bool {
	return img.vp8x != nil || img.iccp != nil || img.anim != nil ||
		img.exif != nil || img.xmp != nil || len(img.extra) > 0
}

func (img *Image) buildVP8X() ([]byte, error) {
	out := make([]byte, vp8xLen)
	if img.vp8x != nil {
		copy(out, img.vp8x)
	} else {
		cfg, err := webp.DecodeConfig(bytes.NewReader(img.simpleBytes()))
		if err != nil {
			return nil, fmt.Errorf("webpmux: decoding bitstream header: %w", err)
		}
		putUint24(out[4:7], uint32(cfg.Width-1))
		putUint24(out[7:10], uint32(cfg.Height-1))
		if img.hasAlpha() {
			out[0] |= flagAlpha
		}
	}

	out[0] = setFlag(out[0], flagEXIF, img.exif != nil)
	out[0] = setFlag(out[0], flagXMP, img.xmp != nil)
	out[0] = setFlag(out[0], flagICCP, img.iccp != nil)
	out[0] = setFlag(out[0], flagAnimation, img.Animated())
	return out, nil
}

func (img *Image) hasAlpha() bool {
	for _, c := range img.image {
		switch c.id {
		case fccALPH:
			return true
		case fccVP8L:
			// 1 byte signature, then 14+14 bits of size, then the alpha hint
			if len(c.data) >= 5 && c.data[0] == 0x2f {
				return binary.LittleEndian.Uint32(c.data[1:5])>>28&1 == 1
			}
		}
	}
	return false
}

func (img *Image) simpleBytes() []byte {
	return encode(img.image)
}

func encode(chunks []chunk) []byte {
	size := 4
	for _, c := range chunks {
		size += 8 + len(c.data) + len(c.data)&1
	}

	var buf bytes.Buffer
	buf.Grow(size + 8)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(size))
	buf.Write(fccWEBP[:])
	for _, c := range chunks {
		buf.Write(c.id[:])
		binary.Write(&buf, binary.LittleEndian, uint32(len(c.data)))
		buf.Write(c.data)
		if len(c.data)&1 == 1 {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func vp8xCanvas(p []byte) (int, int) {
	w := int(p[4]) | int(p[5])<<8 | int(p[6])<<16
	h := int(p[7]) | int(p[8])<<8 | int(p[9])<<16
	return w + 1, h + 1
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func setFlag(flags, bit byte, on bool) byte {
	if on {
		return flags | bit
	}
	return flags &^ bit
}
