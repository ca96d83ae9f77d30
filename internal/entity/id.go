package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	companyPrefix = "company:"
	personPrefix  = "person:"
	digestLen     = 24
)

// digest24 returns the first 24 hex characters of the SHA-256 of the
// lower-cased, trimmed value.
func digest24(value string) string {
	h := sha256.Sum256([]byte(normalize(value)))
	return hex.EncodeToString(h[:])[:digestLen]
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CompanyID keys a registered company by jurisdiction and registry code. The
// tax id is assumed unique within the country and is not validated.
func CompanyID(country, taxID string) string {
	return companyPrefix + country + ":" + taxID
}

// ForeignCompanyID keys a company that has no registry code by a digest of its
// normalized name. Spelling variants of one company get different ids.
func ForeignCompanyID(name, country string) string {
	return companyPrefix + country + ":" + digest24(name)
}

// PersonID keys a natural person by the source's profile URL. The URL is
// lower-cased before hashing to stay compatible with ids already stored, so
// two profiles whose URLs differ only in letter case collapse into one person.
func PersonID(profileURL string) string {
	return personPrefix + digest24(profileURL)
}

// TypeOf derives the entity type from the id namespace.
func TypeOf(id string) (Type, bool) {
	switch {
	case strings.HasPrefix(id, companyPrefix):
		return TypeCompany, true
	case strings.HasPrefix(id, personPrefix):
		return TypePerson, true
	}
	return "", false
}
