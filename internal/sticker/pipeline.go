// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sticker normalises arbitrary image and video payloads into the
// WebP sticker form the messaging client accepts, optionally embedding the
// sticker pack metadata block.
package sticker

import (
	"context"
	"encoding/base64"
	"errors"

	"wwebkit/internal/media"
	"wwebkit/internal/observability"
	"wwebkit/internal/webpmux"
)

var errNoConverter = errors.New("no image converter available")

// ImageConverter turns a still image into sticker WebP data. The browser
// page bridge implements it.
type ImageConverter interface {
	ImageToStickerData(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error)
}

// Options configures a Pipeline
type Options struct {
	// FFmpegPath is the transcoder executable, "ffmpeg" when empty
	FFmpegPath string
	// TempDir receives transcoder output files, os.TempDir() when empty
	TempDir string
	// Converter handles the still image path; nil disables it
	Converter ImageConverter
	Observer  *observability.StandardObserver
}

// Pipeline normalises media into stickers. It holds no mutable state and
// is safe for concurrent use.
type Pipeline struct {
	converter  ImageConverter
	transcoder *Transcoder
	observer   *observability.StandardObserver
}

var _ observability.Observable = (*Pipeline)(nil)

// NewPipeline creates a pipeline from opts
func NewPipeline(opts Options) *Pipeline {
	observer := opts.Observer
	if observer == nil {
		observer = observability.WarningsOnly()
	}
	return &Pipeline{
		converter:  opts.Converter,
		transcoder: NewTranscoder(opts.FFmpegPath, opts.TempDir, observer),
		observer:   observer,
	}
}

// GetComponentName returns the component identifier
func (p *Pipeline) GetComponentName() string {
	return "sticker"
}

// NormalizeToSticker converts m into a sticker WebP payload. When meta is
// non-nil its pack metadata is embedded into the converted bytes. The input
// is never modified.
func (p *Pipeline) NormalizeToSticker(ctx context.Context, m media.MediaPayload, meta *Metadata) (*media.MediaPayload, error) {
	done := p.observer.StartTiming(p.GetComponentName(), "normalize", m.Filename)

	out, err := p.convert(ctx, m)
	if err == nil && meta != nil {
		out, err = p.embed(out, meta)
	}

	done(err, map[string]interface{}{"mimetype": m.MimeType, "family": string(m.Family())})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) convert(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error) {
	switch m.Family() {
	case media.FamilyWebP:
		return &media.MediaPayload{MimeType: media.MimeTypeWebP, Data: m.Data}, nil

	case media.FamilyImage:
		if p.converter == nil {
			return nil, media.NewUnsupportedMediaError(m.MimeType, errNoConverter)
		}
		end := p.observer.Step(p.GetComponentName(), "image_to_sticker", m.MimeType)
		out, err := p.converter.ImageToStickerData(ctx, m)
		if err != nil {
			end(false, err.Error())
			return nil, media.NewUnsupportedMediaError(m.MimeType, err)
		}
		if out == nil {
			end(false, "empty result")
			return nil, media.NewUnsupportedMediaError(m.MimeType, errors.New("image converter returned no data"))
		}
		end(true, "")
		return out, nil

	case media.FamilyVideo:
		return p.transcoder.ToWebP(ctx, m)

	default:
		return nil, media.NewUnsupportedMediaError(m.MimeType, nil)
	}
}

// embed writes the metadata block into already normalised WebP bytes
func (p *Pipeline) embed(webpMedia *media.MediaPayload, meta *Metadata) (*media.MediaPayload, error) {
	end := p.observer.Step(p.GetComponentName(), "embed_metadata", webpMedia.Filename)

	block, err := BuildMetadataBlock(meta)
	if err != nil {
		end(false, err.Error())
		return nil, media.NewEmbedError("building metadata block", err)
	}

	data, err := webpMedia.Bytes()
	if err != nil {
		end(false, err.Error())
		return nil, err
	}

	img, err := webpmux.Load(data)
	if err != nil {
		end(false, err.Error())
		return nil, media.NewEmbedError("loading webp container", err)
	}
	img.SetEXIF(block)

	out, err := img.Save()
	if err != nil {
		end(false, err.Error())
		return nil, media.NewEmbedError("saving webp container", err)
	}
	end(true, "")

	return &media.MediaPayload{
		MimeType: media.MimeTypeWebP,
		Data:     base64.StdEncoding.EncodeToString(out),
		Filename: webpMedia.Filename,
	}, nil
}
