package compose

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// PlacementMargin is the gap in pixels between the product and the canvas
// edge for the non-centered placements.
const PlacementMargin = 20

// ErrUnknownPlacement is returned by ParsePlacement for unrecognized names.
var ErrUnknownPlacement = errors.New("compose: unknown placement")

// Placement selects where the product is pasted on the canvas.
type Placement int

const (
	// Center is the default placement.
	Center Placement = iota
	TopLeft
	TopCenter
	TopRight
	MiddleLeft
	MiddleRight
	BottomLeft
	BottomCenter
	BottomRight
)

var placementNames = map[Placement]string{
	Center:       "center",
	TopLeft:      "top_left",
	TopCenter:    "top_center",
	TopRight:     "top_right",
	MiddleLeft:   "middle_left",
	MiddleRight:  "middle_right",
	BottomLeft:   "bottom_left",
	BottomCenter: "bottom_center",
	BottomRight:  "bottom_right",
}

// String returns the snake_case name of the placement.
func (p Placement) String() string {
	if name, ok := placementNames[p]; ok {
		return name
	}
	return fmt.Sprintf("placement(%d)", int(p))
}

// ParsePlacement converts a snake_case name into a Placement.
// An empty name yields Center.
func ParsePlacement(name string) (Placement, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Center, nil
	}
	for p, n := range placementNames {
		if n == name {
			return p, nil
		}
	}
	return Center, fmt.Errorf("%w: %q", ErrUnknownPlacement, name)
}

// Offset returns the top-left paste origin for a w × h product on a
// square canvas of the given size.
func (p Placement) Offset(canvas, w, h int) image.Point {
	left, right := PlacementMargin, canvas-w-PlacementMargin
	top, bottom := PlacementMargin, canvas-h-PlacementMargin
	midX, midY := (canvas-w)/2, (canvas-h)/2

	switch p {
	case TopLeft:
		return image.Pt(left, top)
	case TopCenter:
		return image.Pt(midX, top)
	case TopRight:
		return image.Pt(right, top)
	case MiddleLeft:
		return image.Pt(left, midY)
	case MiddleRight:
		return image.Pt(right, midY)
	case BottomLeft:
		return image.Pt(left, bottom)
	case BottomCenter:
		return image.Pt(midX, bottom)
	case BottomRight:
		return image.Pt(right, bottom)
	default:
		return image.Pt(midX, midY)
	}
}
