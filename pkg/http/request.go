package http

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// MaxBodyBytes caps request bodies read by DecodeJSON
const MaxBodyBytes = 64 << 10

// ErrInvalidBody is returned for unreadable or malformed JSON bodies
var ErrInvalidBody = errors.New("invalid request body")

// IPConfig holds the proxies whose forwarding headers are believed
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client address. X-Forwarded-For and X-Real-IP
// are only read when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

// RequestHost returns the host the client addressed. X-Forwarded-Host is used
// only behind a trusted proxy.
func RequestHost(r *http.Request, config *IPConfig) string {
	if config != nil && isTrustedProxy(remoteAddr(r), config.TrustedProxies) {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			if host := strings.TrimSpace(strings.Split(fwd, ",")[0]); host != "" {
				return host
			}
		}
	}
	return r.Host
}

// DecodeJSON reads a size-limited JSON body into dst
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return ErrInvalidBody
	}
	return nil
}

// ReadBody returns the raw size-limited body
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, ErrInvalidBody
	}
	return data, nil
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
