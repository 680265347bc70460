// internal/model/recipient.go
package model

import "strings"

// Recipient is one addressed target of a campaign, described by an open
// attribute mapping (CSV column -> value). The email field is chosen by the
// caller, never inferred from the data.
type Recipient map[string]string

// Identity returns the normalised campaign identity for r: the trimmed,
// lowercased value of the chosen email field. Empty means the recipient has
// no usable address.
func (r Recipient) Identity(emailField string) string {
	return strings.ToLower(strings.TrimSpace(r[emailField]))
}

// HasField reports whether the recipient carries the given attribute key.
func (r Recipient) HasField(key string) bool {
	_, ok := r[key]
	return ok
}
