package tilemath

import "testing"

func TestBuildEPSG3857ScaleDenominators(t *testing.T) {
	set := BuildEPSG3857(2)
	if len(set.Matrices) != 3 {
		t.Fatalf("expected 3 matrices, got %d", len(set.Matrices))
	}
	m0, ok := set.Find("0")
	if !ok {
		t.Fatal("expected matrix 0")
	}
	if got, want := m0.ScaleDenominator, 559082264.0287178; got != want {
		t.Errorf("scale denom at z0 = %v, want %v", got, want)
	}
	m1, _ := set.Find("1")
	if m1.ScaleDenominator != m0.ScaleDenominator/2 {
		t.Errorf("scale denom should halve per zoom level")
	}
}

func TestNearestPicksClosestZoom(t *testing.T) {
	set := BuildEPSG3857(10)
	m, ok := set.Nearest(7)
	if !ok || m.Identifier != "7" {
		t.Errorf("Nearest(7) = %+v, want identifier 7", m)
	}
}

func TestRemapFactor(t *testing.T) {
	if got := RemapFactor(5, 7); got != 4 {
		t.Errorf("RemapFactor(5,7) = %v, want 4", got)
	}
	if got := RemapFactor(7, 5); got != 0.25 {
		t.Errorf("RemapFactor(7,5) = %v, want 0.25", got)
	}
}

func TestPresetToMatrixSet(t *testing.T) {
	p := Preset{
		ID:           "swedish-grid",
		CRS:          "EPSG:3006",
		OriginX:      0,
		OriginY:      0,
		Resolutions:  []float64{4096, 2048, 1024},
		TileWidth:    256,
		TileHeight:   256,
		MatrixWidth:  []int64{1, 2, 4},
		MatrixHeight: []int64{1, 2, 4},
	}
	set := p.ToMatrixSet()
	if len(set.Matrices) != 3 {
		t.Fatalf("expected 3 matrices, got %d", len(set.Matrices))
	}
	if set.Matrices[0].Identifier != "0" || set.Matrices[2].Identifier != "2" {
		t.Errorf("unexpected identifiers: %+v", set.Matrices)
	}
}

func TestPresetClosestLevel(t *testing.T) {
	p := Preset{Resolutions: []float64{100, 50, 25, 10}}
	if got := p.ClosestLevel(48); got != 1 {
		t.Errorf("ClosestLevel(48) = %d, want 1", got)
	}
}
