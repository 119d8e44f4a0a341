// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package sticker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rwcarlsen/goexif/tiff"

	"wwebkit/internal/util"
	"wwebkit/internal/webpmux"
)

// Tag id the messaging client reads sticker pack JSON from
const stickerTagID = 0x5741

const (
	headerLen         = 22
	lengthFieldOffset = 14
	packIDLen         = 32
)

// little-endian TIFF header, one IFD entry of type UNDEFINED whose value
// starts right after the header; the count at byte 14 is patched per payload
var exifHeader = [headerLen]byte{
	0x49, 0x49, 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x41, 0x57, 0x07, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00,
}

var ErrNoStickerMetadata = errors.New("sticker: no sticker metadata block")

// Metadata describes the sticker pack a sticker belongs to
type Metadata struct {
	PackID     string   `yaml:"pack_id" json:"packId,omitempty"`
	PackName   string   `yaml:"pack_name" json:"packName,omitempty"`
	Publisher  string   `yaml:"publisher" json:"packPublish,omitempty"`
	AndroidApp string   `yaml:"android_app" json:"androidApp,omitempty"`
	IOSApp     string   `yaml:"ios_app" json:"iOSApp,omitempty"`
	Categories []string `yaml:"categories" json:"categories,omitempty"`
	IsAvatar   bool     `yaml:"is_avatar" json:"isAvatar,omitempty"`
}

// record is the JSON document embedded in the EXIF block. Field order is
// the serialisation order.
type record struct {
	PackID     string   `json:"sticker-pack-id"`
	PackName   string   `json:"sticker-pack-name"`
	Publisher  string   `json:"sticker-pack-publisher"`
	AndroidApp string   `json:"android-app-store-link"`
	IOSApp     string   `json:"ios-app-store-link"`
	Emojis     []string `json:"emojis"`
	IsAvatar   int      `json:"is-avatar-sticker"`

	// older clients wrote the publisher under this key
	LegacyPublisher string `json:"sticker-packsticker-publisher,omitempty"`
}

func newRecord(m *Metadata) record {
	r := record{
		PackID:     m.PackID,
		PackName:   m.PackName,
		Publisher:  m.Publisher,
		AndroidApp: m.AndroidApp,
		IOSApp:     m.IOSApp,
		Emojis:     m.Categories,
	}
	if r.PackID == "" {
		r.PackID = util.GenerateHash(packIDLen)
	}
	if r.Emojis == nil {
		r.Emojis = []string{}
	}
	if m.IsAvatar {
		r.IsAvatar = 1
	}
	return r
}

func (r record) metadata() *Metadata {
	m := &Metadata{
		PackID:     r.PackID,
		PackName:   r.PackName,
		Publisher:  r.Publisher,
		AndroidApp: r.AndroidApp,
		IOSApp:     r.IOSApp,
		Categories: r.Emojis,
		IsAvatar:   r.IsAvatar != 0,
	}
	if m.Publisher == "" {
		m.Publisher = r.LegacyPublisher
	}
	return m
}

// encodeJSON is compact and leaves <, > and & unescaped
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// BuildMetadataBlock returns the EXIF block (header followed by the pack
// JSON) for m, filling every unset field with its default.
func BuildMetadataBlock(m *Metadata) ([]byte, error) {
	if m == nil {
		m = &Metadata{}
	}
	payload, err := encodeJSON(newRecord(m))
	if err != nil {
		return nil, fmt.Errorf("encoding sticker metadata: %w", err)
	}

	block := make([]byte, headerLen+len(payload))
	copy(block, exifHeader[:])
	binary.LittleEndian.PutUint32(block[lengthFieldOffset:], uint32(len(payload)))
	copy(block[headerLen:], payload)
	return block, nil
}

// ParseMetadataBlock decodes an EXIF block written by BuildMetadataBlock
// (or by the messaging client itself) back into Metadata.
func ParseMetadataBlock(block []byte) (*Metadata, error) {
	payload, err := stickerPayload(block)
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("sticker: decoding pack JSON: %w", err)
	}
	return r.metadata(), nil
}

// ReadMetadata extracts the sticker pack metadata embedded in a WebP file
func ReadMetadata(webpData []byte) (*Metadata, error) {
	img, err := webpmux.Load(webpData)
	if err != nil {
		return nil, err
	}
	if img.EXIF() == nil {
		return nil, ErrNoStickerMetadata
	}
	return ParseMetadataBlock(img.EXIF())
}

// stickerPayload walks the first IFD and returns the raw value of the
// sticker tag. Only the first IFD is read: the next-IFD pointer overlaps
// the JSON payload in blocks produced by the messaging client.
func stickerPayload(block []byte) ([]byte, error) {
	if len(block) < 8 || !bytes.Equal(block[:4], exifHeader[:4]) {
		return nil, fmt.Errorf("%w: not a little-endian TIFF block", ErrNoStickerMetadata)
	}

	r := bytes.NewReader(block)
	if _, err := r.Seek(int64(binary.LittleEndian.Uint32(block[4:8])), io.SeekStart); err != nil {
		return nil, fmt.Errorf("sticker: seeking IFD: %w", err)
	}
	dir, _, err := tiff.DecodeDir(r, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("sticker: decoding IFD: %w", err)
	}
	for _, tag := range dir.Tags {
		if tag.Id == stickerTagID {
			return tag.Val, nil
		}
	}
	return nil, ErrNoStickerMetadata
}
