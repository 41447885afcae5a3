package campaign

import (
	"strings"

	"github.com/ignite/audience-engine/internal/domain"
)

// Placeholder tokens substituted per customer. Any other {{token}} is left
// in the message verbatim.
const (
	TokenFirstName = "{{firstName}}"
	TokenLastName  = "{{lastName}}"
	TokenEmail     = "{{email}}"
)

// Render personalizes template for c, replacing every occurrence of the
// recognized tokens.
func Render(template string, c *domain.Customer) string {
	return strings.NewReplacer(
		TokenFirstName, c.FirstName,
		TokenLastName, c.LastName,
		TokenEmail, c.Email,
	).Replace(template)
}
