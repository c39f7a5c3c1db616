package iiif

// Info is the subset of a IIIF Image API info.json response the
// downloader needs.
type Info struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Tiles  []TileSpec `json:"tiles"`
}

// TileSpec describes the tile size advertised by the image server.
// Height is optional in the protocol; zero means "same as width".
type TileSpec struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Region is one rectangular tile of the source image
type Region struct {
	X, Y, W, H int
}

// Grid computes the tile regions covering the full image, row-major.
// Edge tiles are clipped to the image bounds.
func Grid(info Info) []Region {
	tileW := info.Tiles[0].Width
	tileH := info.Tiles[0].Height
	if tileH == 0 {
		tileH = tileW
	}

	var regions []Region
	for y := 0; y < info.Height; y += tileH {
		for x := 0; x < info.Width; x += tileW {
			w := tileW
			if x+w > info.Width {
				w = info.Width - x
			}
			h := tileH
			if y+h > info.Height {
				h = info.Height - y
			}
			regions = append(regions, Region{X: x, Y: y, W: w, H: h})
		}
	}
	return regions
}
