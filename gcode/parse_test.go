package gcode

import (
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	blocks, err := Parse("G21 G91\n\nG28.2 Z0 X0\n")
	require.NoError(t, err)
	assert.Equal(t, []Block{
		{{W: 'G', Arg: 21}, {W: 'G', Arg: 91}},
		{{W: 'G', Arg: 28.2}, {W: 'Z', Arg: 0}, {W: 'X', Arg: 0}},
	}, blocks)

	_, err = Parse("G1 X1\nnot gcode\n")
	assert.Error(t, err)

	assert.Panics(t, func() { MustParse("?") })
}

func TestBlocksReader(t *testing.T) {
	r := &BlocksReader{Blocks: MustParse("G28.4 Y0\nG80\n")}

	b, err := r.Read()
	assert.NoError(t, err)
	assert.Equal(t, "G28.4Y0", b.String())

	rest, err := ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, []Block{{{W: 'G', Arg: 80}}}, rest)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestBuffer(t *testing.T) {
	buf := NewBuffer(&BlocksReader{Blocks: MustParse("G21G90G94\nG53 G0 Z-1.25\n")})

	data, err := ioutil.ReadAll(buf)
	require.NoError(t, err)
	assert.Equal(t, "G21G90G94\nG53G0Z-1.25\n", string(data))
	assert.Empty(t, buf.Buffered())
}
