package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_Format(t *testing.T) {
	assert.Equal(t, "G1 X1.5 Y-2.0", Move(1.5, -2).Format(1))
	assert.Equal(t, "G1 X0.0 Y0.0", Move(-0.04, 0.04).Format(1))
	assert.Equal(t, "G1 X0.00 Y-0.05", Move(-0.001, -0.05).Format(2))
	assert.Equal(t, "G1X1.5Y-2", Move(1.5, -2).String())
}

func TestBlock_IsMove(t *testing.T) {
	assert.True(t, Move(1, 2).IsMove())
	assert.False(t, Block{{W: 'G', Arg: 1}}.IsMove())
	assert.False(t, Block{{W: 'M', Arg: 2}, {W: 'X', Arg: 1}}.IsMove())
}

func TestBlock_Validate(t *testing.T) {
	assert.NoError(t, Move(1, 2).Validate())
	assert.Error(t, Block{{W: 'X', Arg: 1}, {W: 'X', Arg: 2}}.Validate())
	assert.Error(t, Block{{W: 'x', Arg: 1}}.Validate())
}
