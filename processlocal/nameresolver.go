// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package processlocal

import (
	"fmt"

	"github.com/aristanetworks/sparsefs/utils"
)

// NameResolver is an in-process sparsefs.ProcessNameResolver. It fabricates
// a deterministic name per pid and counts registrations so tests can assert
// on resolution behavior.
type NameResolver struct {
	lock      utils.DeferableMutex
	names     map[uint32]string
	registers map[uint32]int
}

func NewNameResolver() *NameResolver {
	return &NameResolver{
		names:     make(map[uint32]string),
		registers: make(map[uint32]int),
	}
}

func (resolver *NameResolver) RegisterPid(pid uint32) {
	defer resolver.lock.Lock().Unlock()

	resolver.registers[pid]++
	if _, exists := resolver.names[pid]; !exists {
		resolver.names[pid] = fmt.Sprintf("process-%d", pid)
	}
}

// Name returns the resolved name of a pid and whether it was ever registered
func (resolver *NameResolver) Name(pid uint32) (string, bool) {
	defer resolver.lock.Lock().Unlock()

	name, exists := resolver.names[pid]
	return name, exists
}

// Registrations returns how often the pid was registered, for tests
func (resolver *NameResolver) Registrations(pid uint32) int {
	defer resolver.lock.Lock().Unlock()
	return resolver.registers[pid]
}
