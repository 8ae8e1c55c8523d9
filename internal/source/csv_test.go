package source

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Pages(t *testing.T) {
	input := " registro_car ,uf\nA,MT\nB,PA\nC,GO\nD,SP\nE,RJ\n"
	r, err := NewReader(strings.NewReader(input), Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"registro_car", "uf"}, r.Header())

	var sizes []int
	for {
		page, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(page))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestReader_RaggedRowsAndBOM(t *testing.T) {
	input := "\xEF\xBB\xBFregistro_car;uf;municipio\nA;MT\nB;PA;Belém;extra\n"
	r, err := NewReader(strings.NewReader(input), Options{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, "registro_car", r.Header()[0], "BOM is stripped")

	page, err := r.Next()
	require.NoError(t, err)
	require.Len(t, page, 2)

	assert.Equal(t, "A", *page[0]["registro_car"])
	assert.Nil(t, page[0]["municipio"])
	assert.Equal(t, "Belém", *page[1]["municipio"])
	assert.Len(t, page[1], 3)
}

func TestReader_KeepsRawValues(t *testing.T) {
	r, err := NewReader(strings.NewReader("a,b\n  x  ,\n"), Options{})
	require.NoError(t, err)
	page, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "  x  ", *page[0]["a"])
	assert.Equal(t, "", *page[0]["b"])
}

func TestReader_Empty(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), Options{})
	assert.Error(t, err)

	r, err := NewReader(strings.NewReader("a,b\n"), Options{})
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCountRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n3,4\n\"multi\nline\",5\n"), 0o600))

	n, err := CountRows(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = CountRows(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestParseDelimiter(t *testing.T) {
	for in, want := range map[string]rune{",": ',', ";": ';', `\t`: '\t', "|": '|'} {
		got, err := ParseDelimiter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", ";;", `"`, "\n"} {
		_, err := ParseDelimiter(bad)
		assert.Error(t, err, bad)
	}
}
