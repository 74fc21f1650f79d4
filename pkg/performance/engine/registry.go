// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "sort"

// Slot holds the previous and current raw sample for one entity. Prev is
// the zero value and HasPrev is false until the second sample arrives for
// that entity, which is the signal the derivation library uses to know a
// rate cannot yet be computed.
type Slot[T any] struct {
	Prev, Curr T
	HasPrev    bool
	// Present is reset to false at the start of every tick and set back
	// to true when that tick's Source Reader reports the entity again;
	// an entity still false after the reader runs has disappeared and is
	// reaped.
	Present bool
	// Baseline is the first value ever recorded for this entity; it is set
	// once and never rotated. Sampler's averages do not read it; they come
	// from engine.Baseline.
	Baseline T
	hasBase  bool
}

// Registry is an ordered, keyed collection of entity slots. Unlike a bare
// map, iteration order is the sorted key order, so two samples produce
// directly comparable output ordering regardless of map iteration
// randomization.
//
// Registry is not safe for concurrent use; the scheduler that owns it runs
// single-threaded.
type Registry[K comparable, T any] struct {
	slots   map[K]*Slot[T]
	less    func(a, b K) bool
	ordered []K // cached sorted key order, rebuilt lazily
	dirty   bool
}

// NewRegistry creates a registry whose iteration order is determined by
// less. Callers needing natural ordering for an ordered key type K can pass
// a comparison built from the standard < operator.
func NewRegistry[K comparable, T any](less func(a, b K) bool) *Registry[K, T] {
	return &Registry[K, T]{
		slots: make(map[K]*Slot[T]),
		less:  less,
	}
}

// MarkAllAbsent clears the Present flag on every slot; call once at the
// start of a tick, before the Source Reader runs, so that entities it does
// not report this round can be distinguished from ones it does.
func (r *Registry[K, T]) MarkAllAbsent() {
	for _, slot := range r.slots {
		slot.Present = false
	}
}

// Update records a fresh sample for key, rotating Prev/Curr and marking the
// entity present for this tick. It returns the slot so the derivation
// library can read HasPrev and Baseline without a second lookup.
func (r *Registry[K, T]) Update(key K, value T) *Slot[T] {
	slot, exists := r.slots[key]
	if !exists {
		slot = &Slot[T]{}
		r.slots[key] = slot
		r.dirty = true
	}

	slot.Prev = slot.Curr
	hadCurr := exists
	slot.Curr = value
	slot.HasPrev = hadCurr
	slot.Present = true

	if !slot.hasBase {
		slot.Baseline = value
		slot.hasBase = true
	}

	return slot
}

// ReapAbsent deletes every slot that was not marked Present since the last
// MarkAllAbsent call. It returns the keys removed so callers can clean up
// any cross-references they hold rather than be left holding a dangling
// handle to an entity that no longer exists.
func (r *Registry[K, T]) ReapAbsent() []K {
	var removed []K
	for key, slot := range r.slots {
		if !slot.Present {
			removed = append(removed, key)
			delete(r.slots, key)
			r.dirty = true
		}
	}
	return removed
}

// Get returns the slot for key, or nil if key is not registered.
func (r *Registry[K, T]) Get(key K) *Slot[T] {
	return r.slots[key]
}

// Len returns the number of entities currently tracked.
func (r *Registry[K, T]) Len() int {
	return len(r.slots)
}

// Keys returns every tracked key in stable sorted order.
func (r *Registry[K, T]) Keys() []K {
	if r.dirty || r.ordered == nil {
		r.ordered = r.ordered[:0]
		for k := range r.slots {
			r.ordered = append(r.ordered, k)
		}
		sort.Slice(r.ordered, func(i, j int) bool { return r.less(r.ordered[i], r.ordered[j]) })
		r.dirty = false
	}
	return r.ordered
}

// Each calls fn once per tracked entity, in Keys() order.
func (r *Registry[K, T]) Each(fn func(key K, slot *Slot[T])) {
	for _, key := range r.Keys() {
		fn(key, r.slots[key])
	}
}
