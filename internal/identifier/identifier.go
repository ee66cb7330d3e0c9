// Package identifier normalizes the phone numbers and email addresses that
// one-time codes and PINs are keyed by. It is the only place request field
// aliases are tolerated.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/go-playground/validator/v10"
)

// Identifier is a normalized phone (E.164) or email address.
type Identifier struct {
	Channel models.Channel
	// Value is the storage key: "+<cc><subscriber>" or a lower-cased email.
	Value string
	// National is the subscriber number without the calling code (phones only).
	National string
}

// IsPhone reports whether the identifier is a phone number.
func (id Identifier) IsPhone() bool {
	return id.Channel == models.ChannelSMS
}

// Input carries the raw request fields. Several clients send the phone under
// different names; all of them are accepted here and nowhere else.
type Input struct {
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phoneNumber"`
	PhoneSnake  string `json:"phone_number"`
	Mobile      string `json:"mobile"`
	Email       string `json:"email"`
	Channel     string `json:"channel"`
}

// PhoneValue returns the first non-empty phone alias.
func (in Input) PhoneValue() string {
	for _, v := range []string{in.Phone, in.PhoneNumber, in.PhoneSnake, in.Mobile} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Normalizer validates identifiers against the single supported numbering plan.
type Normalizer struct {
	countryCode      string
	subscriberLength int
	subscriberPrefix *regexp.Regexp
	validate         *validator.Validate
}

// NewNormalizer builds a Normalizer for one country's mobile plan.
func NewNormalizer(countryCode string, subscriberLength int, subscriberPattern string) (*Normalizer, error) {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" || !isDigits(countryCode) {
		return nil, fmt.Errorf("invalid country calling code %q", countryCode)
	}
	if subscriberLength < 4 || subscriberLength > 14 {
		return nil, fmt.Errorf("invalid subscriber length %d", subscriberLength)
	}
	pattern, err := regexp.Compile(subscriberPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber pattern: %w", err)
	}

	return &Normalizer{
		countryCode:      countryCode,
		subscriberLength: subscriberLength,
		subscriberPrefix: pattern,
		validate:         validator.New(),
	}, nil
}

// Normalize picks the channel from the explicit channel field or from which
// identifier is present.
func (n *Normalizer) Normalize(in Input) (Identifier, error) {
	phone := in.PhoneValue()
	email := strings.TrimSpace(in.Email)

	switch strings.ToLower(strings.TrimSpace(in.Channel)) {
	case "sms", "phone":
		return n.Phone(phone)
	case "email":
		return n.Email(email)
	case "":
	default:
		return Identifier{}, models.ErrInvalidIdentifier
	}

	switch {
	case phone != "" && email != "":
		return Identifier{}, models.ErrInvalidIdentifier
	case phone != "":
		return n.Phone(phone)
	case email != "":
		return n.Email(email)
	default:
		return Identifier{}, models.ErrInvalidIdentifier
	}
}

// Phone normalizes a phone number written with or without the calling code,
// a leading "+" or "00", and common separators.
func (n *Normalizer) Phone(raw string) (Identifier, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	international := false
	switch {
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
		international = true
	case strings.HasPrefix(cleaned, "00"):
		cleaned = cleaned[2:]
		international = true
	}

	if cleaned == "" || !isDigits(cleaned) {
		return Identifier{}, models.ErrInvalidPhone
	}

	national := cleaned
	switch {
	case international || len(cleaned) == len(n.countryCode)+n.subscriberLength:
		if !strings.HasPrefix(cleaned, n.countryCode) {
			return Identifier{}, models.ErrInvalidPhone
		}
		national = cleaned[len(n.countryCode):]
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == n.subscriberLength+1:
		// trunk prefix
		national = cleaned[1:]
	}

	if len(national) != n.subscriberLength || !n.subscriberPrefix.MatchString(national) {
		return Identifier{}, models.ErrInvalidPhone
	}

	return Identifier{
		Channel:  models.ChannelSMS,
		Value:    "+" + n.countryCode + national,
		National: national,
	}, nil
}

// Email lower-cases and syntax-checks an email address.
func (n *Normalizer) Email(raw string) (Identifier, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return Identifier{}, models.ErrInvalidEmail
	}
	if err := n.validate.Var(email, "email"); err != nil {
		return Identifier{}, models.ErrInvalidEmail
	}
	return Identifier{Channel: models.ChannelEmail, Value: email}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
