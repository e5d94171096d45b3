package gcode

import (
	"io"
	"strings"
)

// Reader yields blocks one at a time, returning io.EOF after the last.
type Reader interface {
	Read() (Block, error)
}

var _ Reader = &Parser{}

// BlocksReader reads from an in-memory list of blocks.
type BlocksReader struct {
	Blocks []Block
	n      int
}

func (b *BlocksReader) Read() (Block, error) {
	if b.n >= len(b.Blocks) {
		return nil, io.EOF
	}
	b.n++
	return b.Blocks[b.n-1], nil
}

// ReadAll collects every block from r.
func ReadAll(r Reader) ([]Block, error) {
	var res []Block
	for {
		b, err := r.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
}

// Parse parses G-code text into blocks.
func Parse(data string) ([]Block, error) {
	return ReadAll(NewParser(strings.NewReader(data)))
}

// MustParse is Parse for constant programs; it panics on error.
func MustParse(data string) []Block {
	b, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return b
}
