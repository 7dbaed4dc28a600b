package enrichment

import "github.com/vmihailenco/msgpack/v5"

// encodePayload/decodePayload msgpack-encode cache entries, matching the
// wire format used for job payloads throughout internal/queue.
func encodePayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decodePayload(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}
