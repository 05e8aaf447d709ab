package stage

import (
	"os"

	"github.com/goccy/go-json"
)

// emptyProbeSize is the size under which an export is decoded to check for
// an empty feature collection.
const emptyProbeSize = 1000

type featureCollection struct {
	Features []json.RawMessage `json:"features"`
}

// featureCount decodes a GeoJSON FeatureCollection and counts its features.
func featureCount(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var fc featureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}
