package signature_test

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/okian/faultline/internal/domain/signature"
)

// TestProperty_HashOrderIndependent checks that the digest only depends on
// the pairs, never on the order they were contributed in.
func TestProperty_HashOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rebuilding in any order yields the same hash", prop.ForAll(
		func(data map[string]string, seed int64) bool {
			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			rnd := rand.New(rand.NewSource(seed))
			rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

			rebuilt := make(map[string]string, len(data))
			for _, k := range keys {
				rebuilt[k] = data[k]
			}
			return signature.Hash(rebuilt) == signature.Hash(data)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
		gen.Int64(),
	))

	properties.Property("changing one value changes the hash", prop.ForAll(
		func(key, a, b string) bool {
			if a == b {
				return true
			}
			return signature.Hash(map[string]string{key: a}) != signature.Hash(map[string]string{key: b})
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
