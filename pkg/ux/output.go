// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders nova CLI output. Styled output goes to terminals;
// anything else gets plain, line-oriented text that is easy to grep.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = ColorTealBright
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Key:     lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon with its color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// label is the plain-mode prefix for an icon.
func (i Icon) label() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "ERROR"
	case IconPending:
		return "PENDING"
	default:
		return string(i)
	}
}

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain prints "LABEL: text" lines without escape codes.
	ModePlain
)

// DetectMode returns ModeStyled when w is a terminal.
func DetectMode(w io.Writer) Mode {
	f, ok := w.(*os.File)
	if ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes user-facing output. Warnings and errors go to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
}

// NewPrinter creates a Printer. A nil errOut sends everything to out.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if errOut == nil {
		errOut = out
	}
	return &Printer{out: out, errOut: errOut, mode: mode}
}

// Mode reports the render mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out is the primary writer.
func (p *Printer) Out() io.Writer { return p.out }

// Title prints a heading. Plain mode skips it.
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

func (p *Printer) Success(format string, args ...any) {
	p.status(p.out, IconSuccess, Styles.Success, fmt.Sprintf(format, args...))
}

func (p *Printer) Warning(format string, args ...any) {
	p.status(p.errOut, IconWarning, Styles.Warning, fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...any) {
	p.status(p.errOut, IconError, Styles.Error, fmt.Sprintf(format, args...))
}

func (p *Printer) status(w io.Writer, icon Icon, style lipgloss.Style, text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(w, "%s: %s\n", icon.label(), text)
		return
	}
	fmt.Fprintf(w, "%s %s\n", icon.Render(), style.Render(text))
}

// Field prints one "key: value" line.
func (p *Printer) Field(key string, value any) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%s: %v\n", key, value)
		return
	}
	fmt.Fprintf(p.out, "  %s %v\n", Styles.Key.Render(key+":"), value)
}

// Item prints a status line for a named thing, with optional muted detail.
func (p *Printer) Item(icon Icon, name, detail string) {
	if p.mode == ModePlain {
		if detail == "" {
			fmt.Fprintf(p.out, "%s\t%s\n", icon.label(), name)
		} else {
			fmt.Fprintf(p.out, "%s\t%s\t%s\n", icon.label(), name, detail)
		}
		return
	}
	if detail == "" {
		fmt.Fprintf(p.out, "%s %s\n", icon.Render(), name)
		return
	}
	fmt.Fprintf(p.out, "%s %s %s\n", icon.Render(), name, Styles.Muted.Render("("+detail+")"))
}

// Box prints content under a title, boxed in styled mode.
func (p *Printer) Box(title, content string) {
	p.box(p.out, Styles.Box, Styles.Title, title, content)
}

// WarningBox is Box on errOut with warning colors.
func (p *Printer) WarningBox(title, content string) {
	p.box(p.errOut, Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

func (p *Printer) box(w io.Writer, frame, head lipgloss.Style, title, content string) {
	content = strings.TrimRight(content, "\n")
	if p.mode == ModePlain {
		fmt.Fprintf(w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(w, frame.Render(head.Render(title)+"\n"+content))
}

// Raw writes text unchanged.
func (p *Printer) Raw(text string) {
	fmt.Fprint(p.out, text)
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
