package auth

import (
	"net"
	"strings"
)

// RPID derives the WebAuthn relying-party id for a request host. The
// canonical domain and all of its subdomains share the apex as RP id so a
// passkey registered on one host works on the others.
func RPID(host, canonical string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")

	canonical = strings.ToLower(strings.TrimSuffix(canonical, "."))
	if canonical != "" && (host == canonical || strings.HasSuffix(host, "."+canonical)) {
		return canonical
	}
	if host == "" {
		return canonical
	}
	return host
}
