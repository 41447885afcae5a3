package segmentation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindTime
	// kindDynamic is a metadata value whose type is only known per row.
	kindDynamic
)

type fieldSpec struct {
	Column string
	Kind   fieldKind
}

var customerFields = map[string]fieldSpec{
	"id":              {"c.id", kindString},
	"firstName":       {"c.first_name", kindString},
	"lastName":        {"c.last_name", kindString},
	"email":           {"c.email", kindString},
	"totalSpent":      {"c.total_spent", kindNumber},
	"totalOrders":     {"c.total_orders", kindNumber},
	"lastActive":      {"c.last_active", kindTime},
	"createdAt":       {"c.created_at", kindTime},
	"address.country": {"c.address_country", kindString},
	"address.city":    {"c.address_city", kindString},
}

const metadataPrefix = "metadata."

var metadataKey = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

func lookupField(name string) (fieldSpec, bool) {
	if spec, ok := customerFields[name]; ok {
		return spec, true
	}
	if key, ok := strings.CutPrefix(name, metadataPrefix); ok && metadataKey.MatchString(key) {
		return fieldSpec{Column: fmt.Sprintf("c.metadata->>'%s'", key), Kind: kindDynamic}, true
	}
	return fieldSpec{}, false
}

// Fields returns the names of the filterable customer attributes, sorted,
// followed by the metadata pattern.
func Fields() []string {
	names := make([]string, 0, len(customerFields)+1)
	for name := range customerFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, metadataPrefix+"<key>")
}
