package detections

import "errors"

// Error kinds surfaced by the pipeline and the request layer. Callers match
// them with errors.Is; wrapping adds context only.
var (
	ErrInvalidImageFormat     = errors.New("invalid image format")
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	ErrMissingImageInput      = errors.New("no image provided")
	ErrImageDecode            = errors.New("image decode failed")
	ErrInferenceFailure       = errors.New("inference failed")
	ErrConfiguration          = errors.New("invalid detector configuration")
)
