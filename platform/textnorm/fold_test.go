package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldStripsDiacritics(t *testing.T) {
	assert.Equal(t, "sao paulo", Fold("São Paulo"))
	assert.Equal(t, "vitalicio preco", Fold("VITALÍCIO PREÇO"))
	assert.Equal(t, "niteroi", Key("  Niterói "))
}

func TestLooseNormalization(t *testing.T) {
	assert.Equal(t, "oi tudo bem", Loose("Oi,\u200b   tudo bem???"))
	assert.Equal(t, "oi tudo bem", Loose("  oi tudo\tbem!  "))
	assert.Equal(t, "", Loose("!!! ..."))
	assert.Equal(t, "é 10", Loose("É 10!"))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount(" a  b\nc "))
}
