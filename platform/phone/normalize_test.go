package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "  ", want: ""},
		{name: "national mobile", input: "(11) 96123-4567", want: "+5511961234567"},
		{name: "wa id without plus", input: "5511961234567", want: "+5511961234567"},
		{name: "garbage is returned trimmed", input: " abc ", want: "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeE164(tc.input))
		})
	}
}

func TestWhatsAppIDStripsPlus(t *testing.T) {
	assert.Equal(t, "5511961234567", WhatsAppID("+55 11 96123-4567"))
}
