package auth_test

import (
	"testing"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestRPID(t *testing.T) {
	tests := []struct {
		name      string
		host      string
		canonical string
		want      string
	}{
		{"apex", "example.org", "example.org", "example.org"},
		{"www collapses to apex", "www.example.org", "example.org", "example.org"},
		{"deep subdomain", "app.eu.example.org", "example.org", "example.org"},
		{"port stripped", "www.example.org:8443", "example.org", "example.org"},
		{"upper case", "WWW.Example.ORG", "example.org", "example.org"},
		{"localhost", "localhost:3000", "example.org", "localhost"},
		{"lookalike is not a subdomain", "badexample.org", "example.org", "badexample.org"},
		{"empty host", "", "example.org", "example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.RPID(tt.host, tt.canonical))
		})
	}
}
