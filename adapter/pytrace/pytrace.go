// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package pytrace instruments CPython targets through a bootstrap script
// installing sys.setprofile hooks and a tracemalloc-based memory probe.
// The hook process streams ND-JSON events back over an inherited pipe.
package pytrace // import "github.com/callscope/callscope/adapter/pytrace"

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	_ "embed"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/target"
)

// Language is the registry name of this adapter.
const Language = "python"

//go:embed hook.py
var hookScript []byte

// interpreterEnv overrides the python binary, for test installations.
const interpreterEnv = "CALLSCOPE_PYTHON"

// Compile time check to make sure the contract is satisfied.
var _ adapter.Adapter = (*Adapter)(nil)

func init() {
	adapter.Register(&Adapter{})
}

// Adapter is stateless; each Install produces an independent source.
type Adapter struct{}

func (a *Adapter) Language() string { return Language }

// Install materializes the hook script and prepares the instrumented
// interpreter invocation. The event pipe is created here so a failure is
// surfaced before anything runs.
func (a *Adapter) Install(_ context.Context, desc target.Descriptor,
	engine *adapter.Engine) (adapter.EventSource, error) {
	if engine == nil || engine.Sink == nil {
		return nil, fmt.Errorf("%w: no engine sink", adapter.ErrAttach)
	}

	hookDir, err := os.MkdirTemp("", "callscope-hook-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrAttach, err)
	}
	hookPath := filepath.Join(hookDir, "callscope_hook.py")
	if err = os.WriteFile(hookPath, hookScript, 0o600); err != nil {
		_ = os.RemoveAll(hookDir)
		return nil, fmt.Errorf("%w: writing hook script: %v",
			adapter.ErrAttach, err)
	}

	eventsR, eventsW, err := os.Pipe()
	if err != nil {
		_ = os.RemoveAll(hookDir)
		return nil, fmt.Errorf("%w: event pipe: %v", adapter.ErrAttach, err)
	}

	python := os.Getenv(interpreterEnv)
	if python == "" {
		python = "python3"
	}

	args := append([]string{hookPath, "--", desc.Entrypoint}, desc.Args...)
	cmd := exec.Command(python, args...)
	cmd.Dir = desc.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The hook writes events to the first inherited descriptor (fd 3).
	cmd.ExtraFiles = []*os.File{eventsW}
	cmd.Env = append(os.Environ(), "CALLSCOPE_EVENT_FD=3")

	return newSource(cmd, engine, hookDir, eventsR, eventsW), nil
}
