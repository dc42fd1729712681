package whois

import (
	"strings"
	"unicode/utf8"
)

// NotAvailable is shown for contact fields the registry did not return.
const NotAvailable = "N/A"

// DefaultHostnameCap bounds the joined nameserver list shown to users.
const DefaultHostnameCap = 25

const ellipsis = "..."

// Record is the registration summary appended to a chat as a whois turn.
type Record struct {
	DomainName         string `json:"domainName"`
	Registrar          string `json:"registrar"`
	RegistrationDate   string `json:"registrationDate"`
	ExpirationDate     string `json:"expirationDate"`
	EstimatedDomainAge int    `json:"estimatedDomainAge"`
	Hostnames          string `json:"hostnames"`
	RegistrantName     string `json:"registrantName"`
	TechContact        string `json:"techContact"`
	AdminContact       string `json:"adminContact"`
	ContactEmail       string `json:"contactEmail"`
}

// ErrorPayload replaces the record when the lookup failed.
type ErrorPayload struct {
	Error string `json:"error"`
}

// FormatHostnames joins hosts with ", " and, when the result is longer than
// limit, keeps the first limit-3 characters followed by "...".
func FormatHostnames(hosts []string, limit int) string {
	composed := strings.Join(hosts, ", ")
	if limit <= 0 || utf8.RuneCountInString(composed) <= limit {
		return composed
	}
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(composed)
	return string(runes[:keep]) + ellipsis
}

// OrNA returns value, or NotAvailable when value is blank.
func OrNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return NotAvailable
	}
	return value
}
