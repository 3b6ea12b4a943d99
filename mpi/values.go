package mpi

import "sync"

// Attribute values are Go values the native runtime cannot hold. The runtime
// stores a table id instead; id 0 is never issued.
var (
	valuesMu  sync.Mutex
	values    = make(map[uintptr]any)
	nextValue uintptr
)

func storeValue(v any) uintptr {
	valuesMu.Lock()
	defer valuesMu.Unlock()
	nextValue++
	values[nextValue] = v
	return nextValue
}

func loadValue(id uintptr) any {
	valuesMu.Lock()
	defer valuesMu.Unlock()
	return values[id]
}

func dropValue(id uintptr) {
	valuesMu.Lock()
	delete(values, id)
	valuesMu.Unlock()
}

func liveValues() int {
	valuesMu.Lock()
	defer valuesMu.Unlock()
	return len(values)
}

func resetValues() {
	valuesMu.Lock()
	values = make(map[uintptr]any)
	valuesMu.Unlock()
}
