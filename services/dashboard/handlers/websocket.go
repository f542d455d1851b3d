// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// eventBufferSize bounds the per-connection backlog. The dispatcher's
// Publish is synchronous, so a slow websocket must never block the
// pipeline; once the buffer fills, further events for that connection
// are dropped.
const eventBufferSize = 256

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleEventsWebSocket streams every dispatcher event to the connected
// dashboard client.
//
// # Description
//
// Upgrades the request, subscribes the connection to the dispatcher, and
// forwards events as JSON envelopes until the client disconnects. The
// subscriber callback only enqueues onto a buffered channel; the write
// happens on this handler's goroutine, so one stalled client can neither
// block publishers nor other subscribers.
func HandleEventsWebSocket(dispatcher *events.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		observability.DefaultMetrics.SubscriberConnected()
		defer observability.DefaultMetrics.SubscriberDisconnected()
		slog.Info("Dashboard websocket client connected", "remote", ws.RemoteAddr().String())

		eventCh := make(chan datatypes.Event, eventBufferSize)
		unsubscribe := dispatcher.Subscribe(func(event datatypes.Event) {
			select {
			case eventCh <- event:
			default:
				slog.Warn("Dropping event for slow websocket client",
					"event_type", string(event.Type),
					"remote", ws.RemoteAddr().String(),
				)
			}
		})
		defer unsubscribe()

		// Drain the read side so we notice the client going away. The
		// dashboard protocol is one-directional; inbound frames are
		// discarded.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event := <-eventCh:
				if err := sendJSON(ws, event); err != nil {
					return
				}
			case <-closed:
				slog.Info("Dashboard websocket client disconnected",
					"remote", ws.RemoteAddr().String())
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
