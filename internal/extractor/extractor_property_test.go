package extractor

import (
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestExtractIdempotent: extracting the same (path, data) twice yields the same value.
func TestExtractIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("extract is a pure function", prop.ForAll(
		func(keys []string, leaf string, probe []string) bool {
			data := nest(keys, leaf)
			path := "$." + strings.Join(probe, ".")
			if len(probe) == 0 {
				path = "$"
			}

			v1, ok1 := Extract(path, data)
			v2, ok2 := Extract(path, data)
			return ok1 == ok2 && reflect.DeepEqual(v1, v2)
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.AlphaString(),
		gen.SliceOf(gen.OneGenOf(gen.Identifier(), gen.IntRange(0, 3).Map(strconv.Itoa))),
	))

	properties.Property("a built path finds its leaf", prop.ForAll(
		func(keys []string, leaf string) bool {
			got, ok := Extract("$."+strings.Join(keys, "."), nest(keys, leaf))
			return ok && got == leaf
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// nest builds {"k1": {"k2": {"k3": leaf}}}.
func nest(keys []string, leaf string) any {
	var v any = leaf
	for i := len(keys) - 1; i >= 0; i-- {
		v = map[string]any{keys[i]: v}
	}
	return v
}
