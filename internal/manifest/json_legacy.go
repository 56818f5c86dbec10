package manifest

import "encoding/json"

// jsonUnmarshal decodes the legacy manifest encoding: plain JSON, as the
// Python original's json.dump(..., indent=4, sort_keys=True) produced.
func jsonUnmarshal(data []byte, m *Manifest) error {
	return json.Unmarshal(data, m)
}

// encodeLegacy renders m in the legacy JSON encoding. Nothing in this
// module calls it: Save and Migrate write only the preferred encoding.
func encodeLegacy(m Manifest) ([]byte, error) {
	return json.MarshalIndent(struct {
		Bucket string            `json:"bucket,omitempty"`
		Prefix string            `json:"prefix,omitempty"`
		Files  map[string]string `json:"files"`
	}{Bucket: m.Bucket, Prefix: m.Prefix, Files: m.Files}, "", "    ")
}
