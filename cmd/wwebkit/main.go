// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"wwebkit/internal/bridge"
	"wwebkit/internal/config"
	"wwebkit/internal/help"
	"wwebkit/internal/media"
	"wwebkit/internal/observability"
	"wwebkit/internal/sticker"
	"wwebkit/internal/structures"
	"wwebkit/internal/util"
	"wwebkit/internal/version"
	"wwebkit/internal/webpmux"
)

// app carries what every subcommand needs
type app struct {
	cfg      *config.Config
	observer *observability.StandardObserver
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer

	// openBridge is swapped in tests
	openBridge func(ctx context.Context, cfg config.BridgeConfig, observer *observability.StandardObserver) (bridge.Page, error)
}

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	labelColor   = color.New(color.FgCyan)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("wwebkit", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configFile := global.String("config", "", "Path to configuration file (YAML)")
	debug := global.Bool("debug", false, "Log pipeline steps to stderr")
	noColor := global.Bool("no-color", false, "Disable colored output")
	showVersion := global.Bool("version", false, "Show version information")
	showHelp := global.Bool("help", false, "Show help information")

	if err := global.Parse(args); err != nil {
		errorColor.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg := loadConfiguration(*configFile, stderr)
	if *debug {
		cfg.Debug = true
	}
	if *noColor || cfg.NoColor || !isTerminal(stdout) || os.Getenv("CI") != "" {
		color.NoColor = true
	}

	helpSystem := newHelpSystem(stdout)
	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return 0
	}
	if *showHelp || global.NArg() == 0 {
		helpSystem.ShowGeneralHelp()
		return 0
	}

	a := &app{
		cfg:        cfg,
		observer:   observability.NewStandardObserver(observability.ObservabilityMetrics, stderr),
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		openBridge: bridge.Open,
	}
	if cfg.Debug {
		a.observer = observability.NewDebugObserver(stderr).StandardObserver
		a.observer.Detail("main", fmt.Sprintf("arguments: %v", args))
	}

	command, rest := global.Arg(0), global.Args()[1:]
	var err error
	switch command {
	case "sticker":
		err = a.cmdSticker(ctx, rest)
	case "inspect":
		err = a.cmdInspect(rest)
	case "color":
		err = a.cmdColor(rest)
	case "call":
		err = a.cmdCall(ctx, rest)
	case "packs":
		err = a.cmdPacks()
	case "version":
		if len(rest) > 0 && (rest[0] == "--short" || rest[0] == "-short") {
			fmt.Fprintln(stdout, version.Short())
		} else {
			fmt.Fprintln(stdout, version.Info())
		}
	case "help":
		if len(rest) == 0 {
			helpSystem.ShowGeneralHelp()
		} else if !helpSystem.ShowCommandHelp(rest[0]) {
			return 2
		}
	default:
		errorColor.Fprintf(stderr, "Error: unknown command %q\n", command)
		fmt.Fprintln(stderr, "Use 'wwebkit help' to see a list of available commands.")
		return 2
	}

	if err != nil {
		errorColor.Fprintf(stderr, "Error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// usageError marks bad invocations, reported with exit code 2
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// loadConfiguration loads the configuration file or returns default config
func loadConfiguration(configFile string, stderr io.Writer) *config.Config {
	configPath := configFile
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: Error loading config file: %v\n", err)
		fmt.Fprintf(stderr, "Using default configuration\n")
		cfg = config.DefaultConfig()
	}
	return cfg
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (a *app) cmdSticker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sticker", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	output := fs.String("o", "", "Output file (default: <input>.webp)")
	pack := fs.String("pack", "", "Pack preset from the config file")
	packID := fs.String("pack-id", "", "Sticker pack id (generated when empty)")
	packName := fs.String("pack-name", "", "Sticker pack name")
	publisher := fs.String("publisher", "", "Sticker pack publisher")
	androidApp := fs.String("android-app", "", "Android app store link")
	iosApp := fs.String("ios-app", "", "iOS app store link")
	categories := fs.String("categories", "", "Comma separated emoji categories")
	avatar := fs.Bool("avatar", false, "Mark as avatar sticker")
	noMetadata := fs.Bool("no-metadata", false, "Do not embed pack metadata")
	ffmpeg := fs.String("ffmpeg", "", "Path to the ffmpeg executable")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"sticker expects exactly one input file"}
	}
	input := fs.Arg(0)

	meta := a.cfg.Sticker
	if *pack != "" {
		preset := a.cfg.GetPack(*pack)
		if preset == nil {
			return usageError{fmt.Sprintf("unknown pack %q (have: %s)", *pack, strings.Join(a.cfg.ListPacks(), ", "))}
		}
		meta = *preset
	}
	overrideString(&meta.PackID, *packID)
	overrideString(&meta.PackName, *packName)
	overrideString(&meta.Publisher, *publisher)
	overrideString(&meta.AndroidApp, *androidApp)
	overrideString(&meta.IOSApp, *iosApp)
	if *categories != "" {
		meta.Categories = splitList(*categories)
	}
	if *avatar {
		meta.IsAvatar = true
	}

	m, err := media.NewMediaFromFile(input)
	if err != nil {
		return err
	}

	opts := sticker.Options{
		FFmpegPath: a.cfg.FFmpegPath,
		TempDir:    a.cfg.TempDir,
		Observer:   a.observer,
	}
	overrideString(&opts.FFmpegPath, *ffmpeg)

	if m.Family() == media.FamilyImage && a.cfg.Bridge.Mode != config.BridgeModeNone {
		page, err := a.openBridge(ctx, a.cfg.Bridge, a.observer)
		if err != nil {
			return fmt.Errorf("opening bridge: %w", err)
		}
		defer page.Close()
		opts.Converter = page
	}

	var metaArg *sticker.Metadata
	if !*noMetadata {
		metaArg = &meta
	}

	out, err := sticker.NewPipeline(opts).NormalizeToSticker(ctx, m, metaArg)
	if err != nil {
		if media.IsUnsupportedMedia(err) && m.Family() == media.FamilyImage && opts.Converter == nil {
			return fmt.Errorf("%w (still images need a bridge, set bridge.mode in the config)", err)
		}
		return err
	}

	data, err := out.Bytes()
	if err != nil {
		return err
	}

	dest := *output
	if dest == "" {
		dest = strings.TrimSuffix(input, filepath.Ext(input)) + ".webp"
		if dest == input {
			dest = strings.TrimSuffix(input, filepath.Ext(input)) + ".sticker.webp"
		}
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("writing sticker: %w", err)
	}

	successColor.Fprintf(a.stdout, "Wrote %s", dest)
	fmt.Fprintf(a.stdout, " (%d bytes)\n", len(data))
	return nil
}

func (a *app) cmdInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	format := fs.String("format", "yaml", "Output format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"inspect expects exactly one webp file"}
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	img, err := webpmux.Load(data)
	if err != nil {
		return err
	}
	meta, err := sticker.ReadMetadata(data)
	if err != nil && !errors.Is(err, sticker.ErrNoStickerMetadata) {
		return err
	}

	width, height, _ := img.Canvas()
	report := inspectReport{
		File:     fs.Arg(0),
		Width:    width,
		Height:   height,
		Animated: img.Animated(),
		HasXMP:   img.XMP() != nil,
		Metadata: meta,
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	default:
		return usageError{fmt.Sprintf("unknown format %q", *format)}
	}
}

type inspectReport struct {
	File     string            `json:"file" yaml:"file"`
	Width    int               `json:"width" yaml:"width"`
	Height   int               `json:"height" yaml:"height"`
	Animated bool              `json:"animated" yaml:"animated"`
	HasXMP   bool              `json:"has_xmp" yaml:"has_xmp"`
	Metadata *sticker.Metadata `json:"metadata" yaml:"metadata"`
}

func (a *app) cmdColor(args []string) error {
	if len(args) == 0 {
		return usageError{"color expects at least one value"}
	}
	for _, arg := range args {
		var value any = arg
		if isIntLiteral(arg) {
			n, err := strconv.ParseInt(arg, 0, 64)
			if err != nil {
				return usageError{fmt.Sprintf("invalid integer color %q", arg)}
			}
			value = n
		}
		c, err := util.AssertColor(value)
		if err != nil {
			return err
		}
		labelColor.Fprintf(a.stdout, "%s", arg)
		fmt.Fprintf(a.stdout, "\t#%08X\t%d\n", c, c)
	}
	return nil
}

// isIntLiteral reports whether a color argument is meant as an integer.
// Bare digits stay hex strings, so "123456" is #FF123456.
func isIntLiteral(arg string) bool {
	lower := strings.ToLower(arg)
	return strings.HasPrefix(lower, "-") || strings.HasPrefix(lower, "0x")
}

func (a *app) cmdCall(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	reject := fs.Bool("reject", false, "Reject the call through the configured bridge")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"call expects one JSON file, or - for stdin"}
	}

	var (
		raw []byte
		err error
	)
	if fs.Arg(0) == "-" {
		raw, err = io.ReadAll(a.stdin)
	} else {
		raw, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		return err
	}

	var page structures.CallRejecter
	if *reject {
		p, err := a.openBridge(ctx, a.cfg.Bridge, a.observer)
		if err != nil {
			return fmt.Errorf("opening bridge: %w", err)
		}
		defer p.Close()
		page = p
	}

	call, err := structures.ParseCall(page, raw)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(call); err != nil {
		return err
	}

	if *reject {
		res, err := call.Reject(ctx)
		if err != nil {
			return fmt.Errorf("rejecting call %s: %w", call.ID, err)
		}
		successColor.Fprintf(a.stdout, "Rejected %s", call.ID)
		fmt.Fprintf(a.stdout, ": %s\n", res)
	}
	return nil
}

func (a *app) cmdPacks() error {
	names := a.cfg.ListPacks()
	if len(names) == 0 {
		fmt.Fprintln(a.stdout, "No packs configured")
		return nil
	}
	for _, name := range names {
		pack := a.cfg.Packs[name]
		labelColor.Fprintf(a.stdout, "%s", name)
		fmt.Fprintf(a.stdout, "\t%s\t%s\n", pack.PackName, pack.Publisher)
	}
	return nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newHelpSystem(out io.Writer) *help.System {
	h := help.NewSystem(out, color.NoColor)
	h.Register(help.CommandInfo{
		Name:             "sticker",
		Usage:            "[options] <input>",
		ShortDescription: "Convert an image or video into a sticker WebP",
		Description: "Normalizes the input into a 512x512 WebP sticker and embeds the sticker pack metadata.\n" +
			"Videos are transcoded with ffmpeg (first 5 seconds, looping). Still images other than WebP\n" +
			"are converted by the web client page and need a configured bridge.",
		Flags: []help.Flag{
			{Name: "o", Arg: "<path>", Description: "Output file (default: <input>.webp)"},
			{Name: "pack", Arg: "<name>", Description: "Pack preset from the config file"},
			{Name: "pack-id", Arg: "<id>", Description: "Sticker pack id (random when empty)"},
			{Name: "pack-name", Arg: "<name>", Description: "Sticker pack name"},
			{Name: "publisher", Arg: "<name>", Description: "Sticker pack publisher"},
			{Name: "android-app", Arg: "<url>", Description: "Android app store link"},
			{Name: "ios-app", Arg: "<url>", Description: "iOS app store link"},
			{Name: "categories", Arg: "<list>", Description: "Comma separated emoji categories"},
			{Name: "avatar", Description: "Mark as avatar sticker"},
			{Name: "no-metadata", Description: "Skip pack metadata embedding"},
			{Name: "ffmpeg", Arg: "<path>", Description: "ffmpeg executable (default from config)"},
		},
		Examples: []string{
			"wwebkit sticker --pack-name Cats --publisher me --categories 😺,😸 cat.mp4",
			"wwebkit --config wwebkit.yaml sticker --pack cats -o out.webp cat.png",
		},
	})
	h.Register(help.CommandInfo{
		Name:             "inspect",
		Usage:            "[--format yaml|json] <file.webp>",
		ShortDescription: "Print sticker pack metadata embedded in a WebP",
		Description:      "Reads the EXIF sticker metadata block and the canvas of a WebP file.",
		Flags:            []help.Flag{{Name: "format", Arg: "<yaml|json>", Description: "Output format (default: yaml)"}},
		Examples:         []string{"wwebkit inspect --format json sticker.webp"},
	})
	h.Register(help.CommandInfo{
		Name:             "color",
		Usage:            "<value>...",
		ShortDescription: "Parse colors into 0xAARRGGBB values",
		Description:      "Accepts hex strings (#RGB, #RRGGBB, #AARRGGBB, with or without #). Values starting with - or 0x are integers; negative integers wrap.",
		Examples:         []string{"wwebkit color '#FFF' 123456 -1 0x80FF0000"},
	})
	h.Register(help.CommandInfo{
		Name:             "call",
		Usage:            "[--reject] <call.json|->",
		ShortDescription: "Map a raw call object, optionally rejecting it",
		Description:      "Maps a call object harvested from the web client page into its typed form.",
		Flags:            []help.Flag{{Name: "reject", Description: "Reject the call through the configured bridge"}},
		Examples:         []string{"wwebkit call --reject call.json"},
	})
	h.Register(help.CommandInfo{
		Name:             "packs",
		ShortDescription: "List sticker pack presets from the config file",
		Description:      "Lists the presets under 'packs' in the configuration file.",
	})
	h.Register(help.CommandInfo{
		Name:             "version",
		Usage:            "[--short]",
		ShortDescription: "Show version information",
		Description:      "Prints version, commit, build date and platform.",
		Flags:            []help.Flag{{Name: "short", Description: "Print only the version number"}},
	})
	return h
}
