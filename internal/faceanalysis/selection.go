package faceanalysis

// BestFace selects the face with the largest bounding-box area, or nil when
// no faces were detected. On exact area ties the first occurrence wins.
func BestFace(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].BBox.Area() > faces[best].BBox.Area() {
			best = i
		}
	}
	return &faces[best]
}

// FilterAcceptable keeps the faces whose detection score meets scoreThreshold
// and whose width and height both meet minSize.
func FilterAcceptable(faces []Face, scoreThreshold, minSize float32) []Face {
	kept := make([]Face, 0, len(faces))
	for _, f := range faces {
		if f.Score >= scoreThreshold && f.BBox.Width() >= minSize && f.BBox.Height() >= minSize {
			kept = append(kept, f)
		}
	}
	return kept
}
