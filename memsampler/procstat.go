// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package memsampler // import "github.com/callscope/callscope/memsampler"

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessReader returns a ReadFunc sampling the given PID's memory through
// the OS process accounting. HeapBytes is approximated by the data segment
// size; language-runtime heap readings arrive in-band via adapter sample
// events instead.
func ProcessReader(pid int) (ReadFunc, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("cannot attach memory reader to pid %d: %w",
			pid, err)
	}

	return func() (uint64, uint64, error) {
		mi, err := proc.MemoryInfo()
		if err != nil {
			return 0, 0, err
		}
		return mi.RSS, mi.Data, nil
	}, nil
}
