package trigger

import "encoding/json"

// decodeEventData parses a NATS event payload as a JSON object, the wire
// format eventbus.Publish callers are expected to use for trigger events.
func decodeEventData(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return data, nil
}
