package job

// DownloadRequest is the FSM input
type DownloadRequest struct {
	SessionID string
	ImageID   string
}

// DownloadResponse is the FSM output (accumulated across transitions)
type DownloadResponse struct {
	// From FetchInfo
	Width      int
	Height     int
	TileWidth  int
	TileHeight int
	TileCount  int

	// From DownloadTiles
	TileDir string

	// From Assemble
	ArtifactPath string

	// From Complete
	ArchiveKey   string
	Status       string
	ErrorMessage string
}

// State names
const (
	StateFetchInfo     = "fetch_info"
	StateDownloadTiles = "download_tiles"
	StateAssemble      = "assemble"
	StateComplete      = "complete"
	StateFailed        = "failed"
)

// Progress milestones, as surfaced to pollers: metadata at 0, grid
// computed at 5, tiles fill 5-90, saving at 95, done at 100.
const (
	progressInfo     = 0
	progressGrid     = 5
	progressTileSpan = 85
	progressSaving   = 95
)
