// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package sticker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"wwebkit/internal/media"
	"wwebkit/internal/observability"
	"wwebkit/internal/webpmux"
)

// 1x1 lossless WebP
var tinyWebP = []byte("RIFF\x1a\x00\x00\x00WEBPVP8L\x0d\x00\x00\x00\x2f\x00\x00\x00\x10\x07\x10\x11\x11\x88\x88\xfe\x07\x00")

type fakeConverter struct {
	out   *media.MediaPayload
	err   error
	calls int
	got   media.MediaPayload
}

func (f *fakeConverter) ImageToStickerData(_ context.Context, m media.MediaPayload) (*media.MediaPayload, error) {
	f.calls++
	f.got = m
	return f.out, f.err
}

// fakeFFmpeg writes a shell script standing in for ffmpeg. It records its
// arguments next to itself and then runs body with $out set to the last argument.
func fakeFFmpeg(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script transcoder stub needs a POSIX shell")
	}
	dir := t.TempDir()
	path = filepath.Join(dir, "ffmpeg")
	argsFile = filepath.Join(dir, "args")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %q\nfor out; do :; done\ncat > /dev/null\n%s\n", argsFile, body)
	require.NoError(t, os.WriteFile(path, []byte(script), 0700))
	return path, argsFile
}

func writeFixture(t *testing.T) string {
	t.Helper()
	return writeFixtureData(t, tinyWebP)
}

func writeFixtureData(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.webp")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func riffChunk(id string, data []byte) []byte {
	out := append([]byte(id), binary.LittleEndian.AppendUint32(nil, uint32(len(data)))...)
	out = append(out, data...)
	if len(data)&1 == 1 {
		out = append(out, 0)
	}
	return out
}

// animatedWebP is what ffmpeg hands back for a clip: VP8X with the
// animation and alpha flags, ANIM, then two ANMF frames
func animatedWebP() []byte {
	frame := make([]byte, 16)
	frame = append(frame, riffChunk("VP8L", tinyWebP[20:33])...)

	var body []byte
	body = append(body, "WEBP"...)
	body = append(body, riffChunk("VP8X", []byte{0x12, 0, 0, 0, 0, 0, 0, 0, 0, 0})...)
	body = append(body, riffChunk("ANIM", []byte{0, 0, 0, 0, 0, 0})...)
	body = append(body, riffChunk("ANMF", frame)...)
	body = append(body, riffChunk("ANMF", frame)...)
	return append([]byte("RIFF"), append(binary.LittleEndian.AppendUint32(nil, uint32(len(body))), body...)...)
}

func chunkIDs(data []byte) []string {
	var ids []string
	for off := 12; off+8 <= len(data); {
		ids = append(ids, string(data[off:off+4]))
		n := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8 + n + n&1
	}
	return ids
}

// nonEmptyDir creates a directory that os.Remove cannot delete
func nonEmptyDir(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "busy.webp")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0700))
	return path
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func decode(t *testing.T, m *media.MediaPayload) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(m.Data)
	require.NoError(t, err)
	return data
}

func TestNormalize_WebPPassThrough(t *testing.T) {
	in := media.NewMediaFromBytes("IMAGE/WEBP", tinyWebP, "orig.webp")
	p := NewPipeline(Options{})

	out, err := p.NormalizeToSticker(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Equal(t, media.MimeTypeWebP, out.MimeType)
	assert.Equal(t, in.Data, out.Data)
	assert.Empty(t, out.Filename)
	assert.Equal(t, "orig.webp", in.Filename)
}

func TestNormalize_UnsupportedMediaWritesNothing(t *testing.T) {
	tempDir := t.TempDir()
	conv := &fakeConverter{}
	p := NewPipeline(Options{TempDir: tempDir, Converter: conv, FFmpegPath: "/nonexistent/ffmpeg"})

	_, err := p.NormalizeToSticker(context.Background(), media.NewMediaFromBytes("application/pdf", []byte("%PDF-1.4"), "a.pdf"), &Metadata{})
	require.Error(t, err)
	assert.True(t, media.IsUnsupportedMedia(err))
	assert.Contains(t, err.Error(), "media is not a supported image or video format")
	assert.Empty(t, dirEntries(t, tempDir))
	assert.Zero(t, conv.calls)
}

func TestNormalize_ImageUsesConverter(t *testing.T) {
	converted := media.NewMediaFromBytes(media.MimeTypeWebP, tinyWebP, "pic.png")
	conv := &fakeConverter{out: &converted}
	p := NewPipeline(Options{Converter: conv})

	in := media.NewMediaFromBytes("image/png", []byte("png-bytes"), "pic.png")
	out, err := p.NormalizeToSticker(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, conv.calls)
	assert.Equal(t, in, conv.got)
	assert.Equal(t, &converted, out)
}

func TestNormalize_ImageConverterFailures(t *testing.T) {
	in := media.NewMediaFromBytes("image/jpeg", []byte("jpg"), "")

	_, err := NewPipeline(Options{}).NormalizeToSticker(context.Background(), in, nil)
	assert.True(t, media.IsUnsupportedMedia(err))

	cause := errors.New("page closed")
	_, err = NewPipeline(Options{Converter: &fakeConverter{err: cause}}).NormalizeToSticker(context.Background(), in, nil)
	assert.True(t, media.IsUnsupportedMedia(err))
	assert.ErrorIs(t, err, cause)

	_, err = NewPipeline(Options{Converter: &fakeConverter{}}).NormalizeToSticker(context.Background(), in, nil)
	assert.True(t, media.IsUnsupportedMedia(err))
}

func TestNormalize_EmbedsMetadata(t *testing.T) {
	in := media.NewMediaFromBytes("image/webp", tinyWebP, "s.webp")
	p := NewPipeline(Options{})

	out, err := p.NormalizeToSticker(context.Background(), in, &Metadata{PackName: "Test"})
	require.NoError(t, err)
	assert.Equal(t, media.MimeTypeWebP, out.MimeType)

	data := decode(t, out)
	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "Test", meta.PackName)
	assert.Regexp(t, `^[A-Za-z0-9]{32}$`, meta.PackID)

	_, err = webp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)

	// input untouched
	assert.Equal(t, base64.StdEncoding.EncodeToString(tinyWebP), in.Data)
}

func TestNormalize_EmbedIntoNonWebPFails(t *testing.T) {
	broken := media.NewMediaFromBytes(media.MimeTypeWebP, []byte("not really webp"), "")
	conv := &fakeConverter{out: &broken}
	p := NewPipeline(Options{Converter: conv})

	_, err := p.NormalizeToSticker(context.Background(), media.NewMediaFromBytes("image/png", []byte("x"), ""), &Metadata{})
	require.Error(t, err)

	var mpe *media.MediaProcessingError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, media.ErrorTypeEmbed, mpe.ErrorType)
}

func TestNormalize_VideoTranscode(t *testing.T) {
	fixture := writeFixture(t)
	ffmpeg, argsFile := fakeFFmpeg(t, fmt.Sprintf("cp %q \"$out\"", fixture))
	tempDir := t.TempDir()

	p := NewPipeline(Options{FFmpegPath: ffmpeg, TempDir: tempDir})
	in := media.NewMediaFromBytes("video/mp4", []byte("fake mp4"), "clip.mp4")

	out, err := p.NormalizeToSticker(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Equal(t, media.MimeTypeWebP, out.MimeType)
	assert.Equal(t, "clip.mp4", out.Filename)
	data := decode(t, out)
	assert.NotEmpty(t, data)
	_, err = webp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	assert.Contains(t, strings.Join(lines, " "), "-f mp4 -i pipe:0 -vcodec libwebp")
	assert.Contains(t, lines, "-an")
	assert.Contains(t, lines, "512:512")
	assert.Contains(t, lines, scaleFilter)

	outPath := lines[len(lines)-1]
	assert.Equal(t, tempDir, filepath.Dir(outPath))
	assert.Regexp(t, `^[0-9a-z]+\.webp$`, filepath.Base(outPath))
	assert.Empty(t, dirEntries(t, tempDir), "temp file must be removed")
}

func TestNormalize_VideoWithMetadata(t *testing.T) {
	fixture := writeFixture(t)
	ffmpeg, _ := fakeFFmpeg(t, fmt.Sprintf("cp %q \"$out\"", fixture))
	p := NewPipeline(Options{FFmpegPath: ffmpeg, TempDir: t.TempDir()})

	out, err := p.NormalizeToSticker(context.Background(),
		media.NewMediaFromBytes("video/webm; codecs=vp9", []byte("webm"), "v.webm"),
		&Metadata{PackName: "Clips", Categories: []string{"🎬"}})
	require.NoError(t, err)

	meta, err := ReadMetadata(decode(t, out))
	require.NoError(t, err)
	assert.Equal(t, "Clips", meta.PackName)
	assert.Equal(t, []string{"🎬"}, meta.Categories)
	assert.Equal(t, "v.webm", out.Filename)
}

func TestNormalize_AnimatedVideoWithMetadata(t *testing.T) {
	fixture := writeFixtureData(t, animatedWebP())
	ffmpeg, _ := fakeFFmpeg(t, fmt.Sprintf("cp %q \"$out\"", fixture))
	p := NewPipeline(Options{FFmpegPath: ffmpeg, TempDir: t.TempDir()})

	out, err := p.NormalizeToSticker(context.Background(),
		media.NewMediaFromBytes("video/mp4", []byte("mp4"), "loop.mp4"),
		&Metadata{PackID: "anim", PackName: "Loops"})
	require.NoError(t, err)

	data := decode(t, out)
	assert.Equal(t, []string{"VP8X", "ANIM", "ANMF", "ANMF", "EXIF"}, chunkIDs(data))
	assert.Equal(t, byte(0x1a), data[20])

	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "anim", meta.PackID)
	assert.Equal(t, "Loops", meta.PackName)

	img, err := webpmux.Load(data)
	require.NoError(t, err)
	assert.True(t, img.Animated())
	w, h, err := img.Canvas()
	require.NoError(t, err)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestTranscode_RecordsByteCounts(t *testing.T) {
	fixture := writeFixture(t)
	ffmpeg, _ := fakeFFmpeg(t, fmt.Sprintf("cp %q \"$out\"", fixture))
	var logs bytes.Buffer
	observer := observability.NewDebugObserver(&logs).StandardObserver

	_, err := NewTranscoder(ffmpeg, t.TempDir(), observer).
		ToWebP(context.Background(), media.NewMediaFromBytes("video/mp4", []byte("fake mp4"), "clip.mp4"))
	require.NoError(t, err)

	var record *observability.StandardObservabilityData
	for _, line := range strings.Split(logs.String(), "\n") {
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var data observability.StandardObservabilityData
		require.NoError(t, json.Unmarshal([]byte(line), &data))
		if data.Operation == "transcode" {
			record = &data
		}
	}
	require.NotNil(t, record, logs.String())
	assert.True(t, record.Success)
	assert.Equal(t, "mp4", record.Subject)
	assert.Equal(t, len("fake mp4"), record.InputBytes)
	assert.Equal(t, len(tinyWebP), record.OutputBytes)
}

func TestTranscoder_RemoveTempFailureIsReported(t *testing.T) {
	path := nonEmptyDir(t)
	var logs bytes.Buffer
	tr := NewTranscoder("", t.TempDir(), observability.NewStandardObserver(observability.ObservabilityOff, &logs))

	tr.removeTemp(path)

	assert.DirExists(t, path)
	var data observability.StandardObservabilityData
	require.NoError(t, json.Unmarshal(logs.Bytes(), &data))
	assert.Equal(t, "remove_temp_file", data.Operation)
	assert.Equal(t, path, data.Subject)
	assert.False(t, data.Success)
	assert.NotEmpty(t, data.Error)
}

func TestTranscoder_DefaultObserverWarnsOnStderr(t *testing.T) {
	path := nonEmptyDir(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stderr := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = stderr })

	NewPipeline(Options{TempDir: t.TempDir()}).transcoder.removeTemp(path)

	os.Stderr = stderr
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"operation":"remove_temp_file"`)
	assert.Contains(t, string(out), `"success":false`)

	// removal of a missing file is not a warning
	r, w, err = os.Pipe()
	require.NoError(t, err)
	os.Stderr = w
	NewTranscoder("", "", nil).removeTemp(filepath.Join(t.TempDir(), "gone.webp"))
	os.Stderr = stderr
	require.NoError(t, w.Close())
	out, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNormalize_TranscodeFailure(t *testing.T) {
	ffmpeg, _ := fakeFFmpeg(t, "echo 'Invalid data found when processing input' >&2\ntouch \"$out\"\nexit 1")
	tempDir := t.TempDir()
	var logs bytes.Buffer
	p := NewPipeline(Options{FFmpegPath: ffmpeg, TempDir: tempDir, Observer: observability.NewStandardObserver(observability.ObservabilityMetrics, &logs)})

	_, err := p.NormalizeToSticker(context.Background(), media.NewMediaFromBytes("video/mp4", []byte("x"), ""), nil)
	require.Error(t, err)
	assert.True(t, media.IsTranscodeError(err))
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Empty(t, dirEntries(t, tempDir))
	assert.Contains(t, logs.String(), `"success":false`)
}

func TestNormalize_TranscoderMissing(t *testing.T) {
	p := NewPipeline(Options{FFmpegPath: filepath.Join(t.TempDir(), "no-ffmpeg")})
	_, err := p.NormalizeToSticker(context.Background(), media.NewMediaFromBytes("video/mp4", []byte("x"), ""), nil)
	assert.True(t, media.IsTranscodeError(err))
}

func TestNormalize_TranscodeCancelled(t *testing.T) {
	ffmpeg, _ := fakeFFmpeg(t, "exec sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewPipeline(Options{FFmpegPath: ffmpeg, TempDir: t.TempDir()}).
		NormalizeToSticker(ctx, media.NewMediaFromBytes("video/mp4", []byte("x"), ""), nil)
	require.Error(t, err)

	var mpe *media.MediaProcessingError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, media.ErrorTypeCancelled, mpe.ErrorType)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTempFileName(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		name, err := TempFileName()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9a-z]{1,10}\.webp$`, name)
		seen[name] = true
	}
	assert.Greater(t, len(seen), 45)
}
