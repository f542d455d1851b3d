// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"testing"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []string
	d.Subscribe(func(e datatypes.Event) { order = append(order, "first") })
	d.Subscribe(func(e datatypes.Event) { order = append(order, "second") })
	d.Subscribe(func(e datatypes.Event) { order = append(order, "third") })

	d.Publish(datatypes.EventMetricsUpdated, datatypes.MetricsPayload{})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDispatcher_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	d := NewDispatcher(nil)

	received := 0
	d.Subscribe(func(e datatypes.Event) { panic("subscriber exploded") })
	d.Subscribe(func(e datatypes.Event) { received++ })

	// Must not panic the publisher.
	assert.NotPanics(t, func() {
		d.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{})
	})
	assert.Equal(t, 1, received, "second subscriber should still receive the event")
}

func TestDispatcher_UnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)

	count := 0
	unsubscribe := d.Subscribe(func(e datatypes.Event) { count++ })

	d.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{})
	require.Equal(t, 1, count)

	unsubscribe()
	d.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{})
	assert.Equal(t, 1, count)

	// Idempotent.
	assert.NotPanics(t, func() { unsubscribe() })
	assert.Equal(t, 0, d.SubscriberCount())
}

func TestDispatcher_UnsubscribeDuringPublishIsSafe(t *testing.T) {
	d := NewDispatcher(nil)

	var unsubscribeSecond UnsubscribeFunc
	secondCalls := 0

	// The first subscriber tears down the second mid-publish. The snapshot
	// taken at publish time may still deliver this event to the second
	// subscriber; it must not crash either way.
	d.Subscribe(func(e datatypes.Event) { unsubscribeSecond() })
	unsubscribeSecond = d.Subscribe(func(e datatypes.Event) { secondCalls++ })

	assert.NotPanics(t, func() {
		d.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{})
	})
	assert.LessOrEqual(t, secondCalls, 1)

	// After the publish the second subscriber is gone for good.
	d.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{})
	assert.LessOrEqual(t, secondCalls, 1)
	assert.Equal(t, 1, d.SubscriberCount())
}

func TestDispatcher_EnvelopeCarriesTypeAndTimestamp(t *testing.T) {
	d := NewDispatcher(nil)

	var got datatypes.Event
	d.Subscribe(func(e datatypes.Event) { got = e })

	payload := datatypes.PipelineProgressPayload{CaseID: "case-1", Progress: 30}
	d.Publish(datatypes.EventPipelineProgress, payload)

	assert.Equal(t, datatypes.EventPipelineProgress, got.Type)
	assert.Equal(t, payload, got.Data)
	assert.False(t, got.Timestamp.IsZero())
}
