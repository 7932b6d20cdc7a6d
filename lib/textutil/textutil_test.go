package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "black shoes", Normalize("Black Shoes!"))
	require.Equal(t, "womens breathable shoes", Normalize("Women's, Breathable. Shoes"))
	require.Equal(t, "", Normalize("..."))
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"black", "shoes"}, Tokenize("  black   shoes "))
	require.Empty(t, Tokenize("   "))
}

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(
		t,
		"Breathable Woven Black Mesh Sneaker",
		CollapseWhitespace(" Breathable  Woven Black\tMesh Sneaker  "),
	)
}

func TestFilterKeywords(t *testing.T) {
	got := FilterKeywords([]string{"black shoes", "  ", "", "white shoes", "\t\n"})
	require.Equal(t, []string{"black shoes", "white shoes"}, got)
}
