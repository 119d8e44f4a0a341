// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wwebkit/internal/bridge"
	"wwebkit/internal/config"
	"wwebkit/internal/media"
	"wwebkit/internal/observability"
	"wwebkit/internal/version"
)

// 1x1 lossless WebP
const tinyWebP = "RIFF\x1a\x00\x00\x00WEBPVP8L\x0d\x00\x00\x00\x2f\x00\x00\x00\x10\x07\x10\x11\x11\x88\x88\xfe\x07\x00"

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("WWEBKIT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--no-color"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_NoArgsShowsHelp(t *testing.T) {
	code, out, _ := runCLI(t, "")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "COMMANDS:")
	assert.Contains(t, out, "sticker")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "", "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "", "--version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "wwebkit "))

	code, out, _ = runCLI(t, "", "version", "--short")
	assert.Equal(t, 0, code)
	assert.Equal(t, version.Version+"\n", out)
}

func TestRun_Color(t *testing.T) {
	code, out, _ := runCLI(t, "", "color", "#FFF", "123456", "-1", "0x80FF0000", "-0x1000000")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "#FFF\t#FFFFFFFF\t4294967295", lines[0])
	assert.Equal(t, "123456\t#FF123456\t4279383126", lines[1])
	assert.Equal(t, "-1\t#FFFFFFFF\t4294967295", lines[2])
	assert.Equal(t, "0x80FF0000\t#80FF0000\t2164195328", lines[3])
	assert.Equal(t, "-0x1000000\t#FF000000\t4278190080", lines[4])

	code, _, errOut := runCLI(t, "", "color", "#GGGGGG")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")

	code, _, errOut = runCLI(t, "", "color", "0xZZ")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "invalid integer color")
}

func TestIsIntLiteral(t *testing.T) {
	assert.True(t, isIntLiteral("-1"))
	assert.True(t, isIntLiteral("0xFF"))
	assert.True(t, isIntLiteral("0XFF"))
	assert.False(t, isIntLiteral("123456"))
	assert.False(t, isIntLiteral("#FFF"))
	assert.False(t, isIntLiteral("FF0000"))
}

func TestRun_StickerThenInspect(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cat.webp")
	require.NoError(t, os.WriteFile(in, []byte(tinyWebP), 0600))
	out := filepath.Join(dir, "out.webp")

	code, stdout, stderr := runCLI(t, "", "sticker", "-o", out,
		"--pack-id", "p1", "--pack-name", "Cats", "--publisher", "me", "--categories", "😺, 😸", "--avatar", in)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Wrote "+out)

	code, stdout, stderr = runCLI(t, "", "inspect", "--format", "json", out)
	require.Equal(t, 0, code, stderr)

	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 1, report.Width)
	assert.Equal(t, 1, report.Height)
	require.NotNil(t, report.Metadata)
	assert.Equal(t, "p1", report.Metadata.PackID)
	assert.Equal(t, "Cats", report.Metadata.PackName)
	assert.Equal(t, []string{"😺", "😸"}, report.Metadata.Categories)
	assert.True(t, report.Metadata.IsAvatar)
	assert.False(t, report.HasXMP)
}

func TestRun_InspectWithoutMetadata(t *testing.T) {
	in := filepath.Join(t.TempDir(), "plain.webp")
	require.NoError(t, os.WriteFile(in, []byte(tinyWebP), 0600))

	code, stdout, _ := runCLI(t, "", "inspect", in)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "metadata: null")
}

func TestRun_StickerUsageErrors(t *testing.T) {
	code, _, _ := runCLI(t, "", "sticker")
	assert.Equal(t, 2, code)

	in := filepath.Join(t.TempDir(), "cat.webp")
	require.NoError(t, os.WriteFile(in, []byte(tinyWebP), 0600))
	code, _, errOut := runCLI(t, "", "sticker", "--pack", "missing", in)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown pack")
}

func TestRun_FailuresAreRecordedOnStderr(t *testing.T) {
	in := filepath.Join(t.TempDir(), "clip.mp4")
	mp4 := "\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00isommp42"
	require.NoError(t, os.WriteFile(in, []byte(mp4), 0600))

	code, _, errOut := runCLI(t, "", "sticker", "--ffmpeg", filepath.Join(t.TempDir(), "no-ffmpeg"), in)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `"operation":"transcode"`)
	assert.Contains(t, errOut, `"success":false`)
	assert.Contains(t, errOut, "Error:")
}

func TestRun_StickerRejectsDocuments(t *testing.T) {
	in := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4\n"), 0600))

	code, _, errOut := runCLI(t, "", "sticker", in)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not a supported")
}

func TestRun_CallFromStdin(t *testing.T) {
	code, stdout, stderr := runCLI(t, `{"__x_id":"C1","__x_peerJid":{"_serialized":"1@c.us"},"__x_isVideo":true}`, "call", "-")
	require.Equal(t, 0, code, stderr)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "C1", got["id"])
	assert.Equal(t, "1@c.us", got["from"])
	assert.Equal(t, true, got["isVideo"])
}

type stubPage struct {
	rejected []string
}

func (s *stubPage) RejectCall(_ context.Context, from, id string) (json.RawMessage, error) {
	s.rejected = append(s.rejected, from+"/"+id)
	return json.RawMessage(`true`), nil
}

func (s *stubPage) ImageToStickerData(context.Context, media.MediaPayload) (*media.MediaPayload, error) {
	return nil, nil
}

func (s *stubPage) Close() error { return nil }

func TestApp_CallReject(t *testing.T) {
	page := &stubPage{}
	var stdout, stderr bytes.Buffer
	a := &app{
		cfg:      config.DefaultConfig(),
		observer: observability.Nop(),
		stdin:    strings.NewReader(`{"id":"C2","peerJid":"2@c.us"}`),
		stdout:   &stdout,
		stderr:   &stderr,
		openBridge: func(context.Context, config.BridgeConfig, *observability.StandardObserver) (bridge.Page, error) {
			return page, nil
		},
	}

	require.NoError(t, a.cmdCall(context.Background(), []string{"--reject", "-"}))
	assert.Equal(t, []string{"2@c.us/C2"}, page.rejected)
	assert.Contains(t, stdout.String(), "Rejected C2: true")
}

func TestRun_Packs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wwebkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("packs:\n  cats:\n    pack_name: Cats\n    publisher: me\n"), 0600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--no-color", "--config", path, "packs"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "cats\tCats\tme")
}
