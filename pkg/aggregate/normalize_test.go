package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Fazenda São João":  "fazendasaojoao",
		"fazenda-sao-joao":  "fazendasaojoao",
		"FAZENDA_SAO JOAO":  "fazendasaojoao",
		"Usina Solar Açaí":  "usinasolaracai",
		"Plant 01":          "plant01",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestNormalizeName_DistinctStaysDistinct(t *testing.T) {
	assert.NotEqual(t, NormalizeName("Plant 01"), NormalizeName("Plant 02"))
}
