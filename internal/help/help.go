// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package help

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// CommandInfo contains standardized information about a subcommand
type CommandInfo struct {
	Name             string   // Name of the command (e.g., "sticker")
	Usage            string   // Argument synopsis
	ShortDescription string   // Short description for the commands list
	Description      string   // Detailed description of what the command does
	Flags            []Flag   // Command specific flags
	Examples         []string // Usage examples
}

// Flag documents one command line flag
type Flag struct {
	Name        string
	Arg         string
	Description string
}

// System manages help content for the application
type System struct {
	commands map[string]CommandInfo
	out      io.Writer
	colors   map[string]*color.Color
}

// NewSystem creates a new help system writing to out
func NewSystem(out io.Writer, noColor bool) *System {
	if noColor {
		color.NoColor = true
	}

	return &System{
		commands: make(map[string]CommandInfo),
		out:      out,
		colors: map[string]*color.Color{
			"title":    color.New(color.FgWhite, color.Bold),
			"header":   color.New(color.FgBlue, color.Bold),
			"item":     color.New(color.FgCyan),
			"negative": color.New(color.FgRed),
			"example":  color.New(color.FgMagenta),
		},
	}
}

// Register adds a command to the help system
func (h *System) Register(info CommandInfo) {
	h.commands[strings.ToLower(info.Name)] = info
}

// ShowGeneralHelp displays general help information
func (h *System) ShowGeneralHelp() {
	h.colors["title"].Fprintln(h.out, "wwebkit - web client session toolkit")
	fmt.Fprintln(h.out, "====================================")
	fmt.Fprintln(h.out)
	h.colors["header"].Fprintln(h.out, "USAGE:")
	fmt.Fprintln(h.out, "  wwebkit [global options] <command> [options] [args]")
	fmt.Fprintln(h.out)

	h.colors["header"].Fprintln(h.out, "GLOBAL OPTIONS:")
	w := tabwriter.NewWriter(h.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  --config\t<path>\tPath to configuration file (YAML)")
	fmt.Fprintln(w, "  --debug\t\tLog pipeline steps and operation records to stderr")
	fmt.Fprintln(w, "  --no-color\t\tDisable colored output")
	fmt.Fprintln(w, "  --version\t\tShow version information")
	fmt.Fprintln(w, "  --help\t\tShow this help message")
	w.Flush()
	fmt.Fprintln(h.out)

	h.colors["header"].Fprintln(h.out, "COMMANDS:")
	w = tabwriter.NewWriter(h.out, 0, 0, 2, ' ', 0)
	for _, name := range h.names() {
		fmt.Fprintf(w, "  %s\t%s\n", name, h.commands[name].ShortDescription)
	}
	w.Flush()
	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, "Use 'wwebkit help <command>' for details on a command.")
}

// ShowCommandHelp displays detailed help for one command
func (h *System) ShowCommandHelp(name string) bool {
	info, exists := h.commands[strings.ToLower(name)]
	if !exists {
		h.colors["negative"].Fprintf(h.out, "Error: Command '%s' not found.\n", name)
		fmt.Fprintln(h.out, "Use 'wwebkit help' to see a list of available commands.")
		return false
	}

	h.colors["title"].Fprintf(h.out, "wwebkit %s %s\n", info.Name, info.Usage)
	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, info.Description)
	fmt.Fprintln(h.out)

	if len(info.Flags) > 0 {
		h.colors["header"].Fprintln(h.out, "OPTIONS:")
		w := tabwriter.NewWriter(h.out, 0, 0, 2, ' ', 0)
		for _, f := range info.Flags {
			fmt.Fprintf(w, "  --%s\t%s\t%s\n", f.Name, f.Arg, f.Description)
		}
		w.Flush()
		fmt.Fprintln(h.out)
	}

	if len(info.Examples) > 0 {
		h.colors["header"].Fprintln(h.out, "EXAMPLES:")
		for _, example := range info.Examples {
			h.colors["example"].Fprintf(h.out, "  %s\n", example)
		}
	}
	return true
}

func (h *System) names() []string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
