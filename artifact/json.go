package artifact

import (
	"github.com/goccy/go-json"
)

// Marshal renders a into its canonical JSON form.
func Marshal(a *Artifact) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Unmarshal parses a JSON artifact document.
func Unmarshal(b []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
