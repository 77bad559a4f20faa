package catalogs

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxNameDistance is the largest edit distance Normalize will silently
// correct.
const MaxNameDistance = 2

// Normalize maps a user-supplied material name onto the catalog vocabulary.
// Case, surrounding blanks, spaces and a "minecraft:" namespace are folded
// first; then an unknown name within MaxNameDistance edits of exactly one
// best candidate is corrected. Anything further away is rejected with the
// nearest suggestion in the error.
func (c *Catalog) Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "minecraft:")
	n = strings.ReplaceAll(n, " ", "_")
	if n == "" {
		return "", fmt.Errorf("empty material name")
	}
	if c.IsKnownMaterial(n) {
		return n, nil
	}

	best, bestDist, ties := "", -1, 0
	for _, cand := range c.KnownMaterials() {
		d := levenshtein.ComputeDistance(n, cand)
		switch {
		case bestDist < 0 || d < bestDist:
			best, bestDist, ties = cand, d, 1
		case d == bestDist:
			ties++
		}
	}
	if best != "" && bestDist <= MaxNameDistance && ties == 1 {
		return best, nil
	}
	if best != "" {
		return "", fmt.Errorf("unknown material %q (did you mean %q?)", name, best)
	}
	return "", fmt.Errorf("unknown material %q", name)
}
