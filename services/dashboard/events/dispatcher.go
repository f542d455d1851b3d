// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events implements the pub/sub dispatcher that fans every state
// change out to live dashboard subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

// =============================================================================
// Dispatcher
// =============================================================================

// Subscriber receives one Event per publish.
type Subscriber func(datatypes.Event)

// UnsubscribeFunc deregisters the subscriber it was returned for. Safe to
// call more than once.
type UnsubscribeFunc func()

// Dispatcher delivers every published event to all currently registered
// subscribers, in registration order.
//
// # Description
//
// Publish is synchronous: it invokes each callback inline against a
// snapshot of the subscriber set taken at publish time. A panic raised by
// one callback is recovered and logged and does not prevent delivery to the
// remaining callbacks or propagate to the publisher. Unsubscribing during
// an in-flight publish is safe; the in-flight publish may still deliver to
// a callback that unsubscribed moments earlier.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	id uint64
	cb Subscriber
}

// NewDispatcher creates an empty dispatcher. A nil logger falls back to
// slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe registers a callback and returns the capability to deregister
// it.
//
// # Inputs
//
//   - cb: Invoked once per publish with the event envelope.
//
// # Outputs
//
//   - UnsubscribeFunc: Removes the callback. Idempotent.
func (d *Dispatcher) Subscribe(cb Subscriber) UnsubscribeFunc {
	d.mu.Lock()
	d.nextID++
	sub := &subscription{id: d.nextID, cb: cb}
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == sub.id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Publish delivers an event to every currently registered subscriber.
//
// # Description
//
// Stamps the envelope with the current time and invokes each callback
// synchronously in registration order. Subscriber failures are isolated:
// a panicking callback is logged and skipped, never re-raised.
//
// # Inputs
//
//   - eventType: One of the datatypes.Event* constants.
//   - payload: The matching payload variant for eventType.
func (d *Dispatcher) Publish(eventType datatypes.EventType, payload datatypes.EventPayload) {
	event := datatypes.Event{
		Type:      eventType,
		Data:      payload,
		Timestamp: time.Now(),
	}

	// Snapshot under the read lock so subscribe/unsubscribe during an
	// in-flight publish cannot corrupt iteration.
	d.mu.RLock()
	snapshot := make([]*subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.RUnlock()

	for _, sub := range snapshot {
		d.deliver(sub, event)
	}
}

// deliver invokes one callback with panic isolation.
func (d *Dispatcher) deliver(sub *subscription, event datatypes.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event subscriber panicked",
				"subscriber_id", sub.id,
				"event_type", string(event.Type),
				"panic", r,
			)
		}
	}()
	sub.cb(event)
}
