package models

import "strings"

// Provider identifies a cloud provider an audit can target
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
)

// Providers lists every supported provider in discovery order
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

// ParseProvider converts a path segment or flag value into a Provider
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Valid returns true if the provider is one of the supported providers
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// Label returns the display name used in human-readable summaries
func (p Provider) Label() string {
	switch p {
	case ProviderAWS:
		return "AWS"
	case ProviderAzure:
		return "Azure"
	case ProviderGCP:
		return "GCP"
	}
	return string(p)
}

// Owns reports whether a control identifier's leading token names this provider.
// The comparison is case-insensitive.
func (p Provider) Owns(controlID string) bool {
	return ControlProvider(controlID) == p
}

// ControlProvider derives the provider from the first token of a control identifier
func ControlProvider(controlID string) Provider {
	token, _, _ := strings.Cut(controlID, "-")
	return Provider(strings.ToLower(token))
}
