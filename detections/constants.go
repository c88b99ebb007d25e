package detections

const (
	InputWidth          = 640
	InputHeight         = 640
	ConfThreshold       = 0.5
	NMSThreshold        = 0.45
	PersonClassID       = 0
	NumClasses          = 80
	NumDetections       = 8400
	rowsLayoutWidth     = 6
	denseLayoutBoxWidth = 5
)
