// Package store implements a simple typed key-value store.
package store

import (
	"errors"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

type Store[V any] interface {
	Set(key string, value V) error
	Get(key string) (V, error)
	Delete(key string) error
	Update(key string, newValue V) error
	// Put sets key whether or not it exists.
	Put(key string, value V)
	Len() int
}

type MemStore[V any] struct {
	lock    sync.RWMutex
	entries map[string]V
}

// NewMemStore returns an empty store. Callers that want to share entries
// must share the store.
func NewMemStore[V any]() *MemStore[V] {
	return &MemStore[V]{entries: make(map[string]V)}
}

// Set adds key and fails with ErrKeyExists if it is already present.
func (m *MemStore[V]) Set(key string, value V) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.entries[key]; ok {
		return ErrKeyExists
	}
	m.entries[key] = value
	return nil
}

func (m *MemStore[V]) Get(key string) (V, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, ErrKeyDoesntExist
	}
	return v, nil
}

// Delete removes the specified key and value.
func (m *MemStore[V]) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.entries[key]; !ok {
		return ErrKeyDoesntExist
	}
	delete(m.entries, key)
	return nil
}

// Update changes the value of an existing key.
func (m *MemStore[V]) Update(key string, value V) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.entries[key]; !ok {
		return ErrKeyDoesntExist
	}
	m.entries[key] = value
	return nil
}

func (m *MemStore[V]) Put(key string, value V) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries[key] = value
}

func (m *MemStore[V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.entries)
}
