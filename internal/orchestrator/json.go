package orchestrator

import "encoding/json"

func marshalToJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
