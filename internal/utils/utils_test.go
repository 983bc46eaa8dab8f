package utils

import (
	"testing"

	"github.com/apex/log/handlers/cli"
)

func TestIsASCII(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{
			name: "valid content id",
			in:   "EP9000-PCSG00001_00-0000000000000000",
			want: true,
		},
		{
			name: "embedded nul",
			in:   "EP9000-PCSG\x0000001_00-0000000000000000",
			want: false,
		},
		{
			name: "high bit byte",
			in:   "EP9000-PCSG\xff0001_00-0000000000000000",
			want: false,
		},
		{
			name: "empty string",
			in:   "",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsASCII(tt.in); got != tt.want {
				t.Errorf("IsASCII(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRandomAgent(t *testing.T) {
	ua := RandomAgent()
	if ua == "" {
		t.Fatal("RandomAgent returned empty string")
	}
}

func TestIndentRestoresPadding(t *testing.T) {
	before := normalPadding

	var got string
	logf := func(s string) { got = s }

	Indent(logf, 2)("nested message")

	if got != "nested message" {
		t.Errorf("Indent wrapper called f with %q, want %q", got, "nested message")
	}
	if cli.Default.Padding != before {
		t.Errorf("Padding = %d after Indent call, want restored to %d", cli.Default.Padding, before)
	}
}

func TestIndentSetsPaddingDuringCall(t *testing.T) {
	var duringCall int
	logf := func(string) { duringCall = cli.Default.Padding }

	Indent(logf, 3)("x")

	if want := normalPadding * 3; duringCall != want {
		t.Errorf("Padding during Indent(f, 3) call = %d, want %d", duringCall, want)
	}
}
