// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianNova/cmd/nova/config"
	"github.com/AleutianAI/AleutianNova/pkg/logging"
	"github.com/AleutianAI/AleutianNova/pkg/ux"
	"github.com/AleutianAI/AleutianNova/services/builder"
	"github.com/AleutianAI/AleutianNova/services/builder/envinfo"
	"github.com/AleutianAI/AleutianNova/services/builder/mirror"
)

// app is the state shared by every command of one invocation.
type app struct {
	// flags
	configPath string
	logLevel   string
	jsonOut    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg     *config.NovaConfig
	logger  *logging.Logger
	printer *ux.Printer

	// interactive reports whether prompts may be shown.
	interactive func() bool

	// confirm asks the user to approve something. It is only called when
	// interactive returns true.
	confirm func(title, description string) (bool, error)

	// captureEnv overrides envinfo.Capture when set.
	captureEnv func(ctx context.Context) (*envinfo.Info, error)
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:          in,
		out:         out,
		errOut:      errOut,
		interactive: func() bool { return isTerminal(in) },
		confirm:     promptConfirm,
	}
}

// setup loads config and builds the logger and printer. A config already
// set on the app is kept. One-shot commands log at warn unless --log-level
// says otherwise; the server uses the configured level.
func (a *app) setup(server bool) error {
	if a.cfg == nil {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return NewCommandError("nova", ExitUsage, "", err)
		}
		a.cfg = cfg
	}
	if a.logger == nil {
		level := a.cfg.Logging.Level
		if !server {
			level = "warn"
		}
		if a.logLevel != "" {
			level = a.logLevel
		}
		a.logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(level),
			LogDir:  a.cfg.Logging.Dir,
			Service: "nova",
			JSON:    a.cfg.Logging.JSON,
			Output:  a.errOut,
		})
	}
	if a.printer == nil {
		mode := ux.DetectMode(a.out)
		if a.jsonOut {
			mode = ux.ModePlain
		}
		a.printer = ux.NewPrinter(a.out, a.errOut, mode)
	}
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// openStack opens the builder stack described by the config. The returned
// func releases it and the mirror client.
func (a *app) openStack(ctx context.Context) (*builder.Stack, func(), error) {
	cfg := a.stackConfig()

	var gcs *mirror.GCS
	if a.cfg.Mirror.Enabled {
		var err error
		gcs, err = mirror.NewGCS(ctx, mirror.GCSConfig{
			Bucket:          a.cfg.Mirror.Bucket,
			CredentialsFile: a.cfg.Mirror.CredentialsFile,
			Endpoint:        a.cfg.Mirror.Endpoint,
			Logger:          a.logger.Slog(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot mirror: %w", err)
		}
		cfg.Mirror = gcs
	}

	stack, err := builder.OpenStack(ctx, cfg)
	if err != nil {
		if gcs != nil {
			_ = gcs.Close()
		}
		return nil, nil, err
	}
	release := func() {
		if err := stack.Close(); err != nil {
			a.logger.Warn("close stack", "error", err)
		}
		if gcs != nil {
			_ = gcs.Close()
		}
	}
	return stack, release, nil
}

// withService runs fn against a freshly opened stack.
func (a *app) withService(ctx context.Context, fn func(*builder.Service) error) error {
	stack, release, err := a.openStack(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(stack.Service)
}

func (a *app) stackConfig() builder.StackConfig {
	c := a.cfg
	return builder.StackConfig{
		IntegratedRoot:   c.Roots.Integrated,
		WorkspacesDir:    c.Roots.Workspaces,
		BaseRoot:         c.Roots.Base,
		SnapshotsDir:     c.Storage.Snapshots,
		StagingDir:       c.Storage.Staging,
		LockDir:          c.Storage.Locks,
		RegistryDir:      c.Storage.Registry,
		RegistryInMemory: c.Storage.InMemory,
		TestCommand:      c.Runner.TestCommand,
		TestTimeout:      c.Runner.TestTimeout,
		ToolTimeout:      c.Runner.ToolTimeout,
		MaxOutput:        c.Runner.MaxOutput,
		Python:           c.Runner.Python,
		ToolRate:         c.Tools.Rate,
		ToolBurst:        c.Tools.Burst,
		MirrorPrefix:     c.Mirror.Prefix,
		CaptureEnv:       a.captureEnv,
		Logger:           a.logger.Slog(),
	}
}

// emit prints v as JSON in --json mode, otherwise calls human.
func (a *app) emit(v any, human func(p *ux.Printer)) error {
	if a.jsonOut {
		return a.printer.JSON(v)
	}
	human(a.printer)
	return nil
}

// report prints a failed command's error.
func (a *app) report(err error) {
	p := a.printer
	if p == nil {
		p = ux.NewPrinter(a.errOut, a.errOut, ux.ModePlain)
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Wrapped != nil {
		p.Error("%v", cmdErr.Wrapped)
	} else {
		p.Error("%v", err)
	}
	if detail := errorDetail(err); detail != "" {
		p.WarningBox("details", detail)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func promptConfirm(title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Run").
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
