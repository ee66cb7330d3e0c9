package identifier

import (
	"testing"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNepalNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer("977", 10, `^9[678]`)
	require.NoError(t, err)
	return n
}

func TestPhone_AcceptedFormats(t *testing.T) {
	n := newNepalNormalizer(t)

	inputs := []string{
		"+9779812345678",
		"+977 981-234-5678",
		"009779812345678",
		"9779812345678",
		"9812345678",
		"09812345678",
		"(981) 234.5678",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			id, err := n.Phone(in)
			require.NoError(t, err)
			assert.Equal(t, models.ChannelSMS, id.Channel)
			assert.Equal(t, "+9779812345678", id.Value)
			assert.Equal(t, "9812345678", id.National)
			assert.True(t, id.IsPhone())
		})
	}
}

func TestPhone_Rejected(t *testing.T) {
	n := newNepalNormalizer(t)

	inputs := []string{
		"",
		"+14155550123",   // wrong calling code
		"+977981234567",  // too short
		"+97798123456789", // too long
		"+9771234567890", // not a mobile prefix
		"98123abc78",
		"+",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := n.Phone(in)
			assert.ErrorIs(t, err, models.ErrInvalidPhone)
		})
	}
}

func TestEmail(t *testing.T) {
	n := newNepalNormalizer(t)

	id, err := n.Email("  Someone@Example.ORG ")
	require.NoError(t, err)
	assert.Equal(t, "someone@example.org", id.Value)
	assert.Equal(t, models.ChannelEmail, id.Channel)
	assert.False(t, id.IsPhone())

	for _, bad := range []string{"", "not-an-email", "a@", "@b.com"} {
		_, err := n.Email(bad)
		assert.ErrorIs(t, err, models.ErrInvalidEmail, bad)
	}
}

func TestNormalize_ChannelInference(t *testing.T) {
	n := newNepalNormalizer(t)

	id, err := n.Normalize(Input{PhoneSnake: "9812345678"})
	require.NoError(t, err)
	assert.Equal(t, models.ChannelSMS, id.Channel)

	id, err = n.Normalize(Input{Mobile: "9812345678"})
	require.NoError(t, err)
	assert.Equal(t, "+9779812345678", id.Value)

	id, err = n.Normalize(Input{Email: "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, id.Channel)

	id, err = n.Normalize(Input{Email: "a@b.co", Phone: "9812345678", Channel: "email"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", id.Value)

	_, err = n.Normalize(Input{Email: "a@b.co", Phone: "9812345678"})
	assert.ErrorIs(t, err, models.ErrInvalidIdentifier)

	_, err = n.Normalize(Input{})
	assert.ErrorIs(t, err, models.ErrInvalidIdentifier)

	_, err = n.Normalize(Input{Phone: "9812345678", Channel: "fax"})
	assert.ErrorIs(t, err, models.ErrInvalidIdentifier)

	_, err = n.Normalize(Input{Email: "a@b.co", Channel: "sms"})
	assert.ErrorIs(t, err, models.ErrInvalidPhone)
}

func TestPhoneValue_AliasPrecedence(t *testing.T) {
	in := Input{PhoneNumber: "111", PhoneSnake: "222", Mobile: "333"}
	assert.Equal(t, "111", in.PhoneValue())

	in = Input{Phone: " 000 ", PhoneNumber: "111"}
	assert.Equal(t, "000", in.PhoneValue())
}

func TestNewNormalizer_InvalidPlan(t *testing.T) {
	_, err := NewNormalizer("", 10, ".*")
	assert.Error(t, err)

	_, err = NewNormalizer("977", 2, ".*")
	assert.Error(t, err)

	_, err = NewNormalizer("977", 10, "([")
	assert.Error(t, err)
}
