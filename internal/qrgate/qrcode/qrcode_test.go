package qrcode

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG_Dimensions(t *testing.T) {
	b, err := PNG("campus://v1/mess_entry?ap=ap-1&lc=MESS", 300)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestPNG_Empty(t *testing.T) {
	_, err := PNG("", 256)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestClampSize(t *testing.T) {
	assert.Equal(t, DefaultSize, ClampSize(0))
	assert.Equal(t, MinSize, ClampSize(10))
	assert.Equal(t, MaxSize, ClampSize(100000))
	assert.Equal(t, 700, ClampSize(700))
}
