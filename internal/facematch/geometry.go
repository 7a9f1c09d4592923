package facematch

import (
	"sort"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ConvertPixelBBoxToRelative converts pixel bbox to relative (0-1) coordinates.
// Input bbox is [x1, y1, x2, y2] in pixels, output is [x1, y1, x2, y2] in relative coords.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// ScaleBBox multiplies every coordinate by factor.
func ScaleBBox(bbox []float64, factor float64) []float64 {
	out := make([]float64, len(bbox))
	for i, v := range bbox {
		out[i] = v * factor
	}
	return out
}

// SuppressDuplicates drops detections whose box overlaps a higher-scored
// detection by more than iouThreshold. Survivors keep their frame order.
func SuppressDuplicates(dets []attendance.Detection, iouThreshold float64) []attendance.Detection {
	if len(dets) < 2 {
		return dets
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].DetScore > dets[order[b]].DetScore
	})

	keep := make([]bool, len(dets))
	var kept []int
	for _, i := range order {
		dup := false
		for _, k := range kept {
			if ComputeIoU(dets[i].BBox, dets[k].BBox) > iouThreshold {
				dup = true
				break
			}
		}
		if !dup {
			keep[i] = true
			kept = append(kept, i)
		}
	}

	out := make([]attendance.Detection, 0, len(kept))
	for i, d := range dets {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out
}
