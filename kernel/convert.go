package kernel

import "encoding/json"

// structToMap round-trips v through JSON to produce the generic content map
// the wire layer expects. Used for outgoing typed requests.
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mapToStruct round-trips a generic content map into a typed reply struct.
func mapToStruct(content map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
