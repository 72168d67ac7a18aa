package faceanalysis

import "testing"

func face(x1, y1, x2, y2, score float32) Face {
	return Face{BBox: BoundingBox{x1, y1, x2, y2}, Score: score}
}

func TestBestFacePicksLargestArea(t *testing.T) {
	faces := []Face{
		face(0, 0, 50, 50, 0.9),
		face(0, 0, 200, 200, 0.7),
		face(0, 0, 100, 100, 0.95),
	}

	best := BestFace(faces)
	if best == nil {
		t.Fatal("expected a face, got nil")
	}
	if best.BBox.Area() != 200*200 {
		t.Fatalf("expected the 200x200 face, got area %f", best.BBox.Area())
	}
}

func TestBestFaceEmptyList(t *testing.T) {
	if BestFace(nil) != nil {
		t.Fatal("expected nil for empty list")
	}
}

func TestBestFaceFirstWinsOnTie(t *testing.T) {
	faces := []Face{
		face(0, 0, 100, 100, 0.5),
		face(10, 10, 110, 110, 0.9),
	}

	best := BestFace(faces)
	if best.Score != 0.5 {
		t.Fatalf("expected first face to win the tie, got score %f", best.Score)
	}
}

func TestFilterAcceptableThresholds(t *testing.T) {
	faces := []Face{
		face(0, 0, 100, 120, 0.85), // passes
		face(0, 0, 100, 100, 0.40), // score too low
		face(0, 0, 10, 100, 0.90),  // too narrow
		face(0, 0, 100, 19, 0.90),  // too short
	}

	kept := FilterAcceptable(faces, 0.60, 20)
	if len(kept) != 1 {
		t.Fatalf("expected 1 face kept, got %d", len(kept))
	}
	if kept[0].Score != 0.85 {
		t.Fatalf("unexpected face kept: %+v", kept[0])
	}
}

func TestFilterAcceptableKeepsBothLargeFaces(t *testing.T) {
	faces := []Face{
		face(0, 0, 100, 100, 0.80),
		face(0, 0, 50, 50, 0.70),
	}

	kept := FilterAcceptable(faces, 0.60, 20)
	if len(kept) != 2 {
		t.Fatalf("expected both faces kept, got %d", len(kept))
	}
}

func TestFilterAcceptableBoundaryValues(t *testing.T) {
	// exactly on both thresholds is accepted
	faces := []Face{face(0, 0, 20, 20, 0.60)}

	kept := FilterAcceptable(faces, 0.60, 20)
	if len(kept) != 1 {
		t.Fatalf("expected boundary face kept, got %d", len(kept))
	}
}
