package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "prefix:action:payload".
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "prefix:action:payload".
// Payload is kept as-is (no escaping).
func Data(prefix, action, payload string) string {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if payload == "" {
		return prefix + ":" + action
	}
	return prefix + ":" + action + ":" + payload
}

// CheckedData is Data with a length check.
func CheckedData(prefix, action, payload string) (string, error) {
	d := Data(prefix, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}

// DataOrToken formats callback data and swaps an oversized payload for a
// token from ts. Use ts.Resolve on the receiving side.
func DataOrToken(ts *TokenStore, prefix, action, payload string) string {
	if d, err := CheckedData(prefix, action, payload); err == nil || ts == nil {
		return d
	}
	return Data(prefix, action, ts.Put(payload))
}

// Split parses "prefix:action:payload". Payload may contain ':'.
func Split(data string) (prefix, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
