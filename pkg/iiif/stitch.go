package iiif

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"os"
)

// jpegQuality matches the quality the artifacts are encoded at.
const jpegQuality = 95

// Canvas accumulates decoded tiles into the final image.
type Canvas struct {
	img *image.RGBA
}

// NewCanvas creates an empty canvas of the full image size.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Paste decodes tile bytes and draws them at the region's position.
func (c *Canvas) Paste(data []byte, region Region) error {
	tile, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("iiif: decode tile at %d,%d: %w", region.X, region.Y, err)
	}

	dst := image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H)
	draw.Draw(c.img, dst, tile, tile.Bounds().Min, draw.Src)
	return nil
}

// SaveJPEG encodes the canvas to path as a JPEG.
func (c *Canvas) SaveJPEG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("iiif: create output file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, c.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("iiif: encode jpeg: %w", err)
	}
	return nil
}
