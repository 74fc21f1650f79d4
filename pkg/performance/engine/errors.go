// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import (
	stderrors "github.com/antimetal/agent/pkg/errors"
)

// ExitCode is the narrow, documented surface the scheduler hands back to a
// front-end for translation into a process exit status; the engine itself
// never calls os.Exit.
type ExitCode int

const (
	ExitOK                ExitCode = 0
	ExitUsage             ExitCode = 1
	ExitSourceUnreadable  ExitCode = 2
	ExitAllocFailure      ExitCode = 3
	ExitStdoutUnreachable ExitCode = 4
)

var (
	// ErrAllocation is returned when the registry or a snapshot buffer
	// cannot grow to accommodate a new entity. Fatal.
	ErrAllocation = stderrors.New("engine: allocation failure")

	// ErrSinkUnreachable is returned when the configured Sink fails to
	// accept a record or close out a sample. Fatal.
	ErrSinkUnreachable = stderrors.New("engine: sink unreachable")

	// ErrSourceUnreadable is returned when a Source Reader required for
	// the very first sample cannot be read at all (as opposed to a
	// transient per-tick read failure, which is absorbed and logged).
	ErrSourceUnreadable = stderrors.New("engine: required source unreadable")
)
