package gcode

import (
	"errors"
	"strings"
)

type Block []Word

// Move returns a linear move block for both axes.
func Move(x, y float64) Block {
	return Block{
		{W: 'G', Arg: 1},
		{W: 'X', Arg: x},
		{W: 'Y', Arg: y},
	}
}

// IsMove reports if the block is a G0/G1 motion with at least one axis word.
func (b Block) IsMove() bool {
	var g, axis bool
	for _, w := range b {
		if w.W == 'G' && (w.Arg == 0 || w.Arg == 1) {
			g = true
		}
		if w.IsAxis() {
			axis = true
		}
	}
	return g && axis
}

func (b Block) String() string {
	var s strings.Builder
	for _, w := range b {
		s.WriteString(w.String())
	}
	return s.String()
}

// Format renders the block as a device line, words separated by a space
// and arguments printed with prec decimals.
func (b Block) Format(prec int) string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.Format(prec)
	}
	return strings.Join(parts, " ")
}

func (b Block) Validate() error {
	var checkWord [256]bool

	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
	}

	return nil
}
