// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package pytrace // import "github.com/callscope/callscope/adapter/pytrace"

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/elastic/go-freelru"

	"github.com/callscope/callscope/libprof"
)

// functionCacheSize is the LRU size for interned function identities.
// Hot user code repeats the same handful of identities on every line.
const functionCacheSize = 1024

// wireEvent is one ND-JSON line of the hook protocol. Keys are short on
// purpose; the hook emits one line per call boundary.
type wireEvent struct {
	K    string `json:"k"`
	T    int64  `json:"t"`
	TID  uint32 `json:"tid"`
	Mod  string `json:"m"`
	Name string `json:"n"`
	Line uint32 `json:"l"`
	Size uint64 `json:"sz"`
	Heap uint64 `json:"heap"`
	RSS  uint64 `json:"rss"`

	// Final meta line only.
	Sampled bool   `json:"sampled"`
	Dropped uint64 `json:"dropped"`
}

// errLimited flags an allocation event thinned by the rate limiter.
// Not a stream corruption; the drop is accounted in the decoder stats.
var errLimited = errors.New("allocation event rate-limited")

// metaInfo is the hook's end-of-stream self report.
type metaInfo struct {
	Sampled bool
	Dropped uint64
}

// decoder turns wire lines into engine events. Single goroutine use.
type decoder struct {
	functions *lru.LRU[libprof.FunctionID, libprof.FunctionID]
	limiter   rateLimiter

	sampled bool
	dropped uint64
}

func newDecoder(maxEventsPerSec int) *decoder {
	functions, err := lru.New[libprof.FunctionID, libprof.FunctionID](
		functionCacheSize, libprof.FunctionID.Hash32)
	if err != nil {
		// Only fails for a zero size.
		panic(err)
	}
	return &decoder{
		functions: functions,
		limiter:   rateLimiter{limit: maxEventsPerSec},
	}
}

// decodeLine parses one line into either an event or the final meta
// record. A rate-limited allocation returns a zero event with no error
// and is accounted in the decoder stats.
func (d *decoder) decodeLine(line []byte) (libprof.Event, *metaInfo, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return libprof.Event{}, nil, fmt.Errorf("bad event line: %w", err)
	}

	ev := libprof.Event{
		Timestamp: time.Duration(w.T),
		TID:       libprof.TID(w.TID),
	}

	switch w.K {
	case "enter":
		ev.Kind = libprof.EventKindEnter
		ev.Function = d.intern(w)
	case "exit":
		ev.Kind = libprof.EventKindExit
		ev.Function = d.intern(w)
	case "alloc":
		if !d.limiter.allow(ev.Timestamp) {
			d.sampled = true
			d.dropped++
			return libprof.Event{}, nil, errLimited
		}
		ev.Kind = libprof.EventKindAlloc
		ev.Size = w.Size
	case "dealloc":
		ev.Kind = libprof.EventKindDealloc
		ev.Size = w.Size
	case "sample":
		ev.Kind = libprof.EventKindSample
		ev.Size = w.Heap
		ev.Resident = w.RSS
	case "meta":
		return libprof.Event{}, &metaInfo{
			Sampled: w.Sampled,
			Dropped: w.Dropped,
		}, nil
	default:
		return libprof.Event{}, nil, fmt.Errorf("unknown event kind %q", w.K)
	}
	return ev, nil, nil
}

// intern resolves the identity through the LRU so repeated lines share the
// cached FunctionID's strings instead of retaining a fresh copy per line.
func (d *decoder) intern(w wireEvent) libprof.FunctionID {
	fn := libprof.NewFunctionID(w.Mod, w.Name, w.Line)
	if cached, ok := d.functions.Get(fn); ok {
		return cached
	}
	d.functions.Add(fn, fn)
	return fn
}
