package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// ClaimSet is the transient projection of a validated assertion. It is
// consumed once by the user resolver and never persisted.
type ClaimSet struct {
	// NameID is the mandatory subject identifier.
	NameID string

	Email      string
	FirstName  string
	LastName   string
	JobTitle   string
	Phone      string
	Street     string
	City       string
	PostalCode string
	Country    string

	// Groups holds the group-membership claim values.
	Groups []string
}

// externalGuestMarker appears in NameIDs of Azure AD external guest
// accounts, an account class the resolver does not support.
const externalGuestMarker = "#EXT#@"

// Field length ceilings. A claim exceeding its ceiling is rejected, never
// truncated: a truncated value could collide with another user's identity.
const (
	maxNameIDLen   = 255
	maxEmailLen    = 320
	maxNameLen     = 255
	maxJobTitleLen = 255
	maxPhoneLen    = 64
	maxStreetLen   = 255
	maxCityLen     = 255
	maxPostalLen   = 32
	maxCountryLen  = 64
)

// Validate checks the mandatory NameID, rejects unsupported account
// classes, and enforces the per-field ceilings and email format.
func (c *ClaimSet) Validate() error {
	if strings.TrimSpace(c.NameID) == "" {
		return IdentityError("The identity provider did not supply a subject name identifier.")
	}
	if strings.Contains(c.NameID, externalGuestMarker) {
		return IdentityError("External guest accounts are not supported for this application.")
	}
	if len(c.NameID) > maxNameIDLen {
		return overLimit("name identifier", maxNameIDLen)
	}
	if c.Email != "" {
		if len(c.Email) > maxEmailLen {
			return overLimit("email", maxEmailLen)
		}
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return IdentityError(fmt.Sprintf("The email claim %q is not a valid address.", c.Email))
		}
	}
	checks := []struct {
		name  string
		value string
		max   int
	}{
		{"first name", c.FirstName, maxNameLen},
		{"last name", c.LastName, maxNameLen},
		{"job title", c.JobTitle, maxJobTitleLen},
		{"phone", c.Phone, maxPhoneLen},
		{"street", c.Street, maxStreetLen},
		{"city", c.City, maxCityLen},
		{"postal code", c.PostalCode, maxPostalLen},
		{"country", c.Country, maxCountryLen},
	}
	for _, ch := range checks {
		if len(ch.value) > ch.max {
			return overLimit(ch.name, ch.max)
		}
	}
	return nil
}

func overLimit(field string, max int) *AppError {
	return IdentityError(fmt.Sprintf("The %s claim exceeds the maximum of %d characters and was refused.", field, max))
}

// RightsInput is the fixed projection handed to the rights assigner when a
// user is provisioned.
type RightsInput struct {
	Email    string
	Groups   []string
	JobTitle string
	City     string
	Country  string
}

// RightsResult is what the rights assigner derived from the claim
// projection. Zero-valued ids mean the deployment defaults apply.
type RightsResult struct {
	ProfileID int64
	EntityID  int64
	GroupID   int64
	Recursive bool

	// Matched reports whether any rule matched; when false the
	// deployment defaults were used.
	Matched bool
}

// RightsProjection builds the rights-assigner input from the claims.
func (c *ClaimSet) RightsProjection() RightsInput {
	return RightsInput{
		Email:    c.Email,
		Groups:   c.Groups,
		JobTitle: c.JobTitle,
		City:     c.City,
		Country:  c.Country,
	}
}
