package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/person-detection-service/models"
)

// Deduplicator collapses overlapping detections of the same person into the
// most confident one (greedy non-maximum suppression).
type Deduplicator struct {
	threshold float64
}

func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{threshold: threshold}
}

func (d *Deduplicator) Threshold() float64 { return d.threshold }

// Apply returns the kept detections in descending confidence order. A box is
// dropped when its IoU with any already kept box exceeds the threshold.
func (d *Deduplicator) Apply(dets []models.Detection) []models.Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := make([]models.Detection, len(dets))
	copy(sorted, dets)
	sortDetectionsByConfidence(sorted)

	keep := make([]models.Detection, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, kept := range keep {
			if IoU(cand, kept) > d.threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, cand)
		}
	}
	return keep
}

// IoU is the intersection over union of two boxes; 0 for disjoint or
// degenerate boxes.
func IoU(a, b models.Detection) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.Width, b.X+b.Width)
	y2 := math.Min(a.Y+a.Height, b.Y+b.Height)

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	if intersection == 0 {
		return 0
	}

	union := a.Width*a.Height + b.Width*b.Height - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// ties keep their input order
func sortDetectionsByConfidence(dets []models.Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}
