package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/Sriram-PR/bookfetch/pkg/compose"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// SliceA4 cuts a full-page PNG screenshot into A4-proportioned PNG tiles,
// top to bottom. The last tile is padded with white.
func SliceA4(screenshot []byte) ([][]byte, error) {
	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("%w: decode screenshot: %w", utils.ErrParsing, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	if width == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty screenshot", utils.ErrRenderFailure)
	}
	tileHeight := int(float64(width) * compose.PageHeightMM / compose.PageWidthMM)
	if tileHeight < 1 {
		tileHeight = 1
	}

	var tiles [][]byte
	for y := bounds.Min.Y; y < bounds.Max.Y; y += tileHeight {
		src := image.Rect(bounds.Min.X, y, bounds.Max.X, min(y+tileHeight, bounds.Max.Y))

		tile := image.NewRGBA(image.Rect(0, 0, width, tileHeight))
		draw.Draw(tile, tile.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(tile, src.Sub(src.Min), img, src.Min, draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, tile); err != nil {
			return nil, fmt.Errorf("%w: encode tile %d: %w", utils.ErrRenderFailure, len(tiles)+1, err)
		}
		tiles = append(tiles, buf.Bytes())
	}
	return tiles, nil
}
