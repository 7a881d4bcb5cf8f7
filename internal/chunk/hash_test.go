package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Oak Veneer PANEL", "oak veneer panel"},
		{"collapses whitespace runs", "oak  veneer\t\tpanel", "oak veneer panel"},
		{"trims ends", "  oak veneer panel \n", "oak veneer panel"},
		{"newlines become spaces", "oak\nveneer\npanel", "oak veneer panel"},
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestHash_FormattingVariantsCollide(t *testing.T) {
	a := Hash("Matte black aluminum frame.")
	b := Hash("  matte   BLACK\naluminum frame. ")
	assert.Equal(t, a, b)
}

func TestHash_DistinctContentDiffers(t *testing.T) {
	assert.NotEqual(t, Hash("oak table"), Hash("walnut table"))
}

func TestHash_HexSHA256Shape(t *testing.T) {
	h := Hash("anything")
	assert.Len(t, h, 64)
}
