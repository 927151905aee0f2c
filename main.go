// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/callscope/callscope/adapter"
	_ "github.com/callscope/callscope/adapter/pytrace"
	"github.com/callscope/callscope/htmlreport"
	"github.com/callscope/callscope/internal/controller"
	"github.com/callscope/callscope/report"
)

// version is injected at build time via -ldflags.
var version = "dev"

type exitCode int

const (
	exitSuccess exitCode = 0

	// The target crashed, was killed, or hit the run timeout. A partial
	// report has still been written.
	exitTargetFailed exitCode = 1

	exitParseError exitCode = 2

	// Report serialization or an internal engine failure.
	exitInternal exitCode = 3
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	args, err := parseArgs()
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if args.version {
		fmt.Printf("callscope %s\n", version)
		return exitSuccess
	}

	if args.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		args.Dump()
	}

	if err = args.Validate(); err != nil {
		return parseError("%v", err)
	}

	// Context to drive the run; a signal requests cooperative target
	// termination and a truncated report rather than an abort.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	res, err := controller.New(&args.Config).Run(mainCtx)
	if err != nil {
		switch {
		case errors.Is(err, controller.ErrConfig),
			errors.Is(err, adapter.ErrUnsupported),
			errors.Is(err, adapter.ErrAttach):
			return parseError("%v", err)
		default:
			return failure("Profiling run failed: %v", err)
		}
	}

	data, err := report.Serialize(res.Report)
	if err != nil {
		log.Errorf("Failed to serialize report: %v", err)
		return exitInternal
	}

	if err = writeOutput(args.output, data); err != nil {
		log.Errorf("Failed to write report: %v", err)
		return exitInternal
	}

	if args.htmlOutput != "" {
		var buf bytes.Buffer
		if err = htmlreport.Render(&buf, data); err != nil {
			log.Errorf("Failed to render HTML report: %v", err)
			return exitInternal
		}
		if err = os.WriteFile(args.htmlOutput, buf.Bytes(), 0o644); err != nil {
			log.Errorf("Failed to write HTML report: %v", err)
			return exitInternal
		}
	}

	if !res.Status.Clean() {
		return exitTargetFailed
	}
	return exitSuccess
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitInternal
}
