package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmountMinor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10.50", 1050, false},
		{"10", 1000, false},
		{"0.01", 1, false},
		{"  5.00  ", 500, false},
		{"0", 0, true},
		{"0.00", 0, true},
		{"-5.00", 0, true},
		{"5.001", 0, true},
		{"not-a-number", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseAmountMinor(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		assert.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestFormatAmountMinor(t *testing.T) {
	assert.Equal(t, "10.50", FormatAmountMinor(1050))
	assert.Equal(t, "0.01", FormatAmountMinor(1))
	assert.Equal(t, "0.00", FormatAmountMinor(0))
	assert.Equal(t, "1000.00", FormatAmountMinor(100000))
}

func TestParseAmountMinor_RoundTripsWithFormat(t *testing.T) {
	minor, err := ParseAmountMinor("1234.56")
	assert.NoError(t, err)
	assert.Equal(t, "1234.56", FormatAmountMinor(minor))
}
