// Package companion implements the loopback automation service and its HTTP
// client. The service owns the machine's pointer, keyboard, and screen, so it
// processes one request at a time and only accepts connections carrying the
// shared token.
package companion

// MinTokenLength is the minimum accepted auth token size.
const MinTokenLength = 32

// AuthHeader carries the shared token on every request except /health.
const AuthHeader = "X-Auth-Token"

// Region is a rectangle in physical screen pixels.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ClickRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button,omitempty"`
	Clicks int     `json:"clicks,omitempty"`
}

type FocusRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type TypeRequest struct {
	Text       string `json:"text"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

type ScrollRequest struct {
	DeltaX int `json:"delta_x"`
	DeltaY int `json:"delta_y"`
}

// UploadRequest asks the service to complete an already-open native file
// dialog with a local path. The file must exist on the companion's machine.
type UploadRequest struct {
	FilePath string `json:"file_path"`
}

// OpticalClickRequest asks the service to find text on screen and click its
// center. Matches below ConfidenceThreshold are reported, never clicked.
type OpticalClickRequest struct {
	TextPattern         string  `json:"text_pattern"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	Region              *Region `json:"region,omitempty"`
}

// ActionResponse is the common reply for all automation endpoints.
type ActionResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	Coordinates *[2]float64 `json:"coordinates,omitempty"`
}

type ScreenshotResponse struct {
	Success bool   `json:"success"`
	PNG     []byte `json:"png,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
