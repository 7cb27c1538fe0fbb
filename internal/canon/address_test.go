package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main St, Springfield, IL", "123 main"},
		{"123 Main Street", "123 main"},
		{"  500   OAK   Ave. ", "500 oak"},
		{"77 Court St Ct", "77"},
		{"9 Elm", "9 elm"},
		{"St", "st"},
		{"4410 Streetsboro Rd", "4410 streetsboro"},
		{"12 N. Highway 9 #4", "12 n hwy 9 4"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"123 Main St, Springfield, IL",
		"77 Court St Ct",
		"1600 Pennsylvania Avenue NW, Washington, DC 20500",
		"  way  ",
		"Apt 4B, 19 Rue de l'Église",
		"St St St",
		"12 Place Pl",
		",,,",
		"5th",
		"ÅNGSTRÖM WAY",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestIsStreetAddress(t *testing.T) {
	assert.True(t, IsStreetAddress("123 main springfield"))
	assert.True(t, IsStreetAddress("1235 maple"))
	assert.False(t, IsStreetAddress("123 main"), "too short")
	assert.False(t, IsStreetAddress("springfield il"), "no leading digit")
	assert.False(t, IsStreetAddress(""))
}

func TestCanonicalize(t *testing.T) {
	line1, city, st, zip, key := Canonicalize("123 Main Street Apt 4, Springfield", "springfield", "Illinois", "62704-1234")
	assert.Equal(t, "123 MAIN ST", line1)
	assert.Equal(t, "SPRINGFIELD", city)
	assert.Equal(t, "IL", st)
	assert.Equal(t, "62704", zip)
	assert.Equal(t, "123 main st|springfield|il|62704", key)
}

func TestStateCode(t *testing.T) {
	assert.Equal(t, "NY", StateCode(" new  york "))
	assert.Equal(t, "TX", StateCode("tx"))
	assert.Equal(t, "", StateCode(""))
}
