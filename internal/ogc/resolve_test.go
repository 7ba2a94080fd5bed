package ogc

import (
	"testing"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/tilemath"
)

func testInventory() Inventory {
	inv := Inventory{MatrixSets: map[string]tilemath.MatrixSet{}}
	inv.Layers = append(inv.Layers, LayerRecord{
		Identifier:      "orto_parcels",
		ProjectID:       "orto",
		ProjectKey:      "orto",
		LayerName:       "parcels",
		LayerKey:        "parcels",
		Kind:            cacheindex.KindLayer,
		TileMatrixSetID: "EPSG_3857",
		ZoomMax:         5,
	})
	inv.MatrixSets["EPSG_3857"] = tilemath.BuildEPSG3857(5)
	return inv
}

func TestResolveRESTHappyPath(t *testing.T) {
	inv := testInventory()
	rt, err := ResolveREST(inv, "/cache", "orto", "parcels", "EPSG_3857", "3", 2, 3, "png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.SourceLevel != 3 || rt.Col != 3 || rt.Row != 2 {
		t.Errorf("unexpected resolved tile: %+v", rt)
	}
}

func TestResolveRESTRejectsSetMismatch(t *testing.T) {
	inv := testInventory()
	_, err := ResolveREST(inv, "/cache", "orto", "parcels", "other-set", "3", 0, 0, "png")
	if err != ErrSetMismatch {
		t.Errorf("expected ErrSetMismatch, got %v", err)
	}
}

func TestResolveRESTRejectsNegativeIndex(t *testing.T) {
	inv := testInventory()
	_, err := ResolveREST(inv, "/cache", "orto", "parcels", "EPSG_3857", "3", -1, 0, "png")
	if err != ErrNegativeIndex {
		t.Errorf("expected ErrNegativeIndex, got %v", err)
	}
}

func TestResolveRESTRejectsOutOfBounds(t *testing.T) {
	inv := testInventory()
	_, err := ResolveREST(inv, "/cache", "orto", "parcels", "EPSG_3857", "1", 10, 10, "png")
	if err != ErrOutOfBounds {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestResolveKVPNormalizesPrefixedMatrix(t *testing.T) {
	inv := testInventory()
	rt, err := ResolveKVP(inv, "/cache", "parcels", "EPSG:3857:3", 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.SourceLevel != 3 {
		t.Errorf("expected level 3, got %d", rt.SourceLevel)
	}
}

func TestResolveKVPRemapsToNearestZoom(t *testing.T) {
	inv := testInventory()
	rt, err := ResolveKVP(inv, "/cache", "parcels", "20", 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.SourceLevel != 5 {
		t.Errorf("expected remap to max available zoom 5, got %d", rt.SourceLevel)
	}
}

func TestResolveKVPLeavesInBoundsRowUnflipped(t *testing.T) {
	inv := testInventory()
	// z3 has an 8x8 matrix; row 5 is already in bounds, so the TMS-origin
	// flip (applied only to rows at or past the matrix height) leaves it.
	rt, err := ResolveKVP(inv, "/cache", "parcels", "3", 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Row != 5 {
		// Row 5 is within bounds for an 8-row matrix already (valid XYZ), so no flip needed.
		t.Errorf("expected row 5 unflipped (in-bounds), got %d", rt.Row)
	}
}

func TestFindByKVPNameMatchesSuffix(t *testing.T) {
	inv := testInventory()
	_, ok := inv.FindByKVPName("parcels")
	if !ok {
		t.Error("expected direct layerName match")
	}
	_, ok = inv.FindByKVPName("orto_parcels")
	if !ok {
		t.Error("expected identifier match")
	}
	_, ok = inv.FindByKVPName("_parcels")
	if !ok {
		t.Error("expected identifier suffix match")
	}
}
