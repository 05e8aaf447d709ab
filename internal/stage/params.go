package stage

import (
	"strconv"
	"strings"
)

// WithLayer returns params with "-l <layer>" appended unless params already
// name a layer. Without it tippecanoe names the layer after the input file,
// which for temp artifacts is not the dataset name.
func WithLayer(params []string, layer string) []string {
	for _, p := range params {
		if isLayerFlag(p) {
			return params
		}
	}
	return append(append([]string(nil), params...), "-l", layer)
}

func isLayerFlag(p string) bool {
	switch {
	case p == "-l", p == "-L", p == "--layer", p == "--named-layer":
		return true
	case strings.HasPrefix(p, "--layer="), strings.HasPrefix(p, "--named-layer="):
		return true
	case strings.HasPrefix(p, "-l") && !strings.HasPrefix(p, "--"):
		return true
	case strings.HasPrefix(p, "-L") && !strings.HasPrefix(p, "--"):
		return true
	}
	return false
}

// WithFeatureID returns params with "--use-attribute-for-id=<column>"
// appended unless params already choose where feature ids come from.
// The remove filter matches on the feature id.
func WithFeatureID(params []string, column string) []string {
	if column == "" {
		return params
	}
	for _, p := range params {
		if p == "--generate-ids" || p == "-ai" ||
			p == "--use-attribute-for-id" || strings.HasPrefix(p, "--use-attribute-for-id=") {
			return params
		}
	}
	return append(append([]string(nil), params...), "--use-attribute-for-id="+column)
}

// ExcludeFeature returns a tile-join feature filter dropping the feature
// whose id equals ref, in every layer.
func ExcludeFeature(ref int64) string {
	return `{"*":["!=","$id",` + strconv.FormatInt(ref, 10) + `]}`
}
