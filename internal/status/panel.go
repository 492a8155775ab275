// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package status

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Panel geometry for basicfont.Face7x13.
const (
	lineHeight   = 13
	charWidth    = 7
	margin       = 4
	maxLineChars = 96
	maxLines     = 24
)

// Panel renders status text as a dark image, one wrapped line per row.
func Panel(text string) *image.RGBA {
	lines := wrap(text, maxLineChars, maxLines)
	widest := 1
	for _, l := range lines {
		if len(l) > widest {
			widest = len(l)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, widest*charWidth+2*margin, len(lines)*lineHeight+2*margin))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{0x10, 0x10, 0x10, 0xff}}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{color.RGBA{0x7c, 0xfc, 0x00, 0xff}},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(margin, margin+(i+1)*lineHeight-3)
		drawer.DrawString(l)
	}
	return img
}

// RenderPNG writes Panel(text) as PNG.
func RenderPNG(w io.Writer, text string) error {
	return png.Encode(w, Panel(text))
}

// wrap splits text on newlines and hard-wraps long lines, keeping at most
// limit lines (the last one marked with "...").
func wrap(text string, width, limit int) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		for len(raw) > width {
			out = append(out, raw[:width])
			raw = raw[width:]
		}
		out = append(out, raw)
	}
	if len(out) > limit {
		out = append(out[:limit-1], "...")
	}
	return out
}
