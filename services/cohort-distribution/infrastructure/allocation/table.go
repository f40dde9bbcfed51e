package allocation

import (
	"context"
	"sort"
	"strings"

	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/types"
)

// DefaultProvider serves postcodes no prefix matches
const DefaultProvider = "BS SELECT"

type entry struct {
	prefix   string
	provider string
}

// Table allocates providers from a postcode prefix table. The longest
// matching prefix wins and matching ignores case and spaces.
type Table struct {
	entries  []entry
	fallback string
}

// NewTable builds a table from prefix to provider. fallback replaces
// DefaultProvider when set.
func NewTable(prefixes map[string]string, fallback string) *Table {
	if fallback == "" {
		fallback = DefaultProvider
	}
	t := &Table{fallback: fallback}
	for prefix, provider := range prefixes {
		if p := normalize(prefix); p != "" && provider != "" {
			t.entries = append(t.entries, entry{prefix: p, provider: provider})
		}
	}
	sort.Slice(t.entries, func(i, j int) bool {
		if len(t.entries[i].prefix) != len(t.entries[j].prefix) {
			return len(t.entries[i].prefix) > len(t.entries[j].prefix)
		}
		return t.entries[i].prefix < t.entries[j].prefix
	})
	return t
}

// Allocate returns the provider for postcode. A participant without a
// postcode cannot be allocated.
func (t *Table) Allocate(_ context.Context, _ types.IdentityKey, _ string, postcode string) (string, error) {
	p := normalize(postcode)
	if p == "" {
		return "", common.NewAppError(common.ErrCodeMissingRequired, "postcode is required for allocation")
	}
	for _, e := range t.entries {
		if strings.HasPrefix(p, e.prefix) {
			return e.provider, nil
		}
	}
	return t.fallback, nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
