// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package sticker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wwebkit/internal/media"
	"wwebkit/internal/observability"
)

// DefaultFFmpegPath is used when no transcoder path is configured
const DefaultFFmpegPath = "ffmpeg"

// fit into 300x300 keeping aspect, pad transparent to exactly 300x300, 10 fps
const scaleFilter = "scale='iw*min(300/iw,300/ih)':'ih*min(300/iw,300/ih)'," +
	"format=rgba," +
	"pad=300:300:'(300-iw)/2':'(300-ih)/2':'#00000000'," +
	"setsar=1," +
	"fps=10"

// keep the last bit of transcoder stderr for error reports
const stderrTail = 2048

// Transcoder turns video payloads into animated WebP via an ffmpeg executable
type Transcoder struct {
	ffmpegPath string
	tempDir    string
	observer   *observability.StandardObserver
}

// NewTranscoder creates a transcoder. Empty values select the defaults; a
// nil observer still reports warnings to stderr.
func NewTranscoder(ffmpegPath, tempDir string, observer *observability.StandardObserver) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if observer == nil {
		observer = observability.WarningsOnly()
	}
	return &Transcoder{ffmpegPath: ffmpegPath, tempDir: tempDir, observer: observer}
}

// TranscodeArgs returns the ffmpeg argument list reading the given input
// format from stdin and writing a looping 512x512 WebP to output.
func TranscodeArgs(inputFormat, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", inputFormat,
		"-i", "pipe:0",
		"-vcodec", "libwebp",
		"-vf", scaleFilter,
		"-loop", "0",
		"-ss", "00:00:00.0",
		"-t", "00:00:05.0",
		"-preset", "default",
		"-an",
		"-vsync", "0",
		"-s", "512:512",
		"-f", "webp",
		"-y", output,
	}
}

// TempFileName returns a random "<base36>.webp" name built from 6 random bytes
func TempFileName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:6]); err != nil {
		return "", fmt.Errorf("generating temp file name: %w", err)
	}
	return strconv.FormatUint(binary.LittleEndian.Uint64(b[:]), 36) + ".webp", nil
}

// ToWebP transcodes a video payload. The returned payload keeps the
// original filename. The temporary output file is removed on every path;
// a failed removal is reported to the observer and does not fail the call.
func (t *Transcoder) ToWebP(ctx context.Context, m media.MediaPayload) (*media.MediaPayload, error) {
	format := m.SubType()
	if format == "" {
		return nil, media.NewUnsupportedMediaError(m.MimeType, errors.New("mimetype has no sub-format"))
	}

	input, err := m.Bytes()
	if err != nil {
		return nil, err
	}

	name, err := TempFileName()
	if err != nil {
		return nil, media.NewTranscodeError(m.MimeType, err)
	}
	tempFile := filepath.Join(t.tempDir, name)
	defer t.removeTemp(tempFile)

	output, err := t.run(ctx, format, input, tempFile)
	if err != nil {
		return nil, media.NewTranscodeError(m.MimeType, err)
	}

	return &media.MediaPayload{
		MimeType: media.MimeTypeWebP,
		Data:     base64.StdEncoding.EncodeToString(output),
		Filename: m.Filename,
	}, nil
}

// run executes ffmpeg and reads back its output file
func (t *Transcoder) run(ctx context.Context, format string, input []byte, tempFile string) (output []byte, err error) {
	start := time.Now()
	endStep := t.observer.Step("sticker", "transcode", format)
	if t.observer.Level() == observability.ObservabilityDebug {
		t.observer.Detail("sticker", fmt.Sprintf("%s %s", t.ffmpegPath, strings.Join(TranscodeArgs(format, tempFile), " ")))
	}
	defer func() {
		record := observability.StandardObservabilityData{
			Component:   "sticker",
			Operation:   "transcode",
			Subject:     format,
			DurationMs:  time.Since(start).Milliseconds(),
			Success:     err == nil,
			InputBytes:  len(input),
			OutputBytes: len(output),
		}
		if err != nil {
			record.Error = err.Error()
			endStep(false, err.Error())
		} else {
			endStep(true, fmt.Sprintf("%d bytes in, %d bytes out", len(input), len(output)))
		}
		t.observer.LogOperation(record)
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ffmpegPath, TranscodeArgs(format, tempFile)...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, withStderr(err, stderr.Bytes())
	}

	output, err = os.ReadFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("reading transcoder output: %w", err)
	}
	if len(output) == 0 {
		return nil, errors.New("transcoder produced an empty file")
	}
	return output, nil
}

func (t *Transcoder) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.observer.Warn("sticker", "remove_temp_file", path, err)
	}
}

func withStderr(err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return err
	}
	if len(msg) > stderrTail {
		msg = msg[len(msg)-stderrTail:]
	}
	return fmt.Errorf("%w: %s", err, msg)
}
