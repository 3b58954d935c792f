package wshub

import "encoding/json"

// ClientMessage is any inbound frame from a WebSocket client.
type ClientMessage struct {
	Type           string          `json:"type"`
	Event          string          `json:"event"`
	Channel        string          `json:"channel"`
	Filter         json.RawMessage `json:"filter"`
	SubscriptionID string          `json:"subscriptionId"`
}

// EventName resolves the event/channel alias per spec §4.I.
func (m *ClientMessage) EventName() string {
	if m.Event != "" {
		return m.Event
	}
	return m.Channel
}

func subscribedFrame(id, event string, filter *RawFilter) map[string]any {
	return map[string]any{
		"type":           "subscribed",
		"event":          event,
		"subscriptionId": id,
		"data":           map[string]any{"filter": filter},
	}
}

func unsubscribedFrame(removed, total int) map[string]any {
	return map[string]any{
		"type": "unsubscribed",
		"data": map[string]any{"removedSubscriptions": removed, "totalSubscriptions": total},
	}
}

func pongFrame(timestamp int64) map[string]any {
	return map[string]any{"type": "pong", "data": map[string]any{"timestamp": timestamp}}
}

func subscriptionsFrame(events []string, details []map[string]any) map[string]any {
	return map[string]any{"type": "subscriptions", "data": events, "details": details}
}

func throttledFrame(buffered, threshold int64, retryAfterMs int, attempts int) map[string]any {
	return map[string]any{
		"type": "throttled",
		"data": map[string]any{
			"reason":       "backpressure",
			"buffered":     buffered,
			"threshold":    threshold,
			"retryAfterMs": retryAfterMs,
			"attempts":     attempts,
		},
	}
}

func shutdownFrame() map[string]any {
	return map[string]any{"type": "shutdown"}
}

func errorFrame(id, code, message string) map[string]any {
	f := map[string]any{
		"type":  "error",
		"data":  map[string]any{"message": message},
		"error": map[string]any{"code": code, "message": message},
	}
	if id != "" {
		f["id"] = id
	}
	return f
}

func eventFrame(topic string, data map[string]any) map[string]any {
	return map[string]any{"type": "event", "data": data}
}
