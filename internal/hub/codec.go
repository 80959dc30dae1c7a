package hub

import (
	"encoding/json"

	"agora/server/internal/protocol"
)

func encode(msg protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(payload []byte) (protocol.Message, error) {
	var msg protocol.Message
	err := json.Unmarshal(payload, &msg)
	return msg, err
}
