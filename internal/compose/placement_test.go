package compose

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacement_Offset(t *testing.T) {
	const canvas, w, h = 800, 300, 200

	tests := []struct {
		placement Placement
		want      image.Point
	}{
		{Center, image.Pt(250, 300)},
		{TopLeft, image.Pt(20, 20)},
		{TopCenter, image.Pt(250, 20)},
		{TopRight, image.Pt(480, 20)},
		{MiddleLeft, image.Pt(20, 300)},
		{MiddleRight, image.Pt(480, 300)},
		{BottomLeft, image.Pt(20, 580)},
		{BottomCenter, image.Pt(250, 580)},
		{BottomRight, image.Pt(480, 580)},
	}

	for _, tt := range tests {
		t.Run(tt.placement.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.placement.Offset(canvas, w, h))
		})
	}
}

func TestPlacement_ZeroValueIsCenter(t *testing.T) {
	var p Placement
	assert.Equal(t, Center, p)
	assert.Equal(t, image.Pt(249, 249), p.Offset(800, 301, 301))
}

func TestParsePlacement(t *testing.T) {
	for p, name := range placementNames {
		got, err := ParsePlacement(name)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePlacement("  Bottom_Right ")
	require.NoError(t, err)
	assert.Equal(t, BottomRight, got)

	got, err = ParsePlacement("")
	require.NoError(t, err)
	assert.Equal(t, Center, got)

	_, err = ParsePlacement("upside_down")
	assert.ErrorIs(t, err, ErrUnknownPlacement)
}

func TestCompose_UsesPlacement(t *testing.T) {
	req := baseRequest()
	req.Product = solid(100, 100, red)
	req.Placement = BottomRight

	img, err := Compose(req)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(680, 680, 780, 780), redBounds(img))
}
