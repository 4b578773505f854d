package gateway

import (
	"encoding/json"
	"errors"
)

var errEmptyPayload = errors.New("empty payload")

func decodePayload(msg IncomingMessage, into any) error {
	if len(msg.Payload) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(msg.Payload, into)
}

// isAccessDenied covers both a refused access check and a reference that can
// never resolve to a room (unknown kind, empty id).
func isAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrUnknownKind)
}
