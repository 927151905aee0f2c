// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package adapter // import "github.com/callscope/callscope/adapter"

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Adapter)
)

// Register makes an adapter selectable by its language name. New language
// runtimes plug in here without the aggregator changing.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[a.Language()]; exists {
		panic(fmt.Sprintf("duplicate adapter registration for %q",
			a.Language()))
	}
	registry[a.Language()] = a
}

// Lookup resolves the adapter for a language.
func Lookup(language string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := registry[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)",
			ErrUnsupported, language, languagesLocked())
	}
	return a, nil
}

// Languages returns the registered language names, sorted.
func Languages() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return languagesLocked()
}

func languagesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
