package services

import "sync"

// keyedMutex serializa operaciones por clave (tenant, documento).
// Reconciliación y cancelación del mismo documento nunca corren en
// paralelo dentro del proceso: quien toma la clave primero decide el
// estado terminal, el otro observa y se vuelve no-op.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// newKeyedMutex crea un keyedMutex vacío
func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock bloquea la clave y retorna la función que la libera
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
