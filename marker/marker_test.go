package marker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func squareAt(x, y, side float64) [4]r2.Point {
	return [4]r2.Point{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

func TestObservationCenter(t *testing.T) {
	obs := Observation{ID: 7, Corners: squareAt(10, 20, 4)}
	test.That(t, obs.Center(), test.ShouldResemble, r2.Point{X: 12, Y: 22})
}

func TestObservationCheckValid(t *testing.T) {
	good := Observation{ID: 0, Corners: squareAt(0, 0, 10)}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	collinear := Observation{ID: 1, Corners: [4]r2.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 5},
	}}
	test.That(t, collinear.CheckValid(), test.ShouldNotBeNil)

	coincident := Observation{ID: 2}
	test.That(t, coincident.CheckValid(), test.ShouldNotBeNil)
}

func TestNewReferenceSet(t *testing.T) {
	_, err := NewReferenceSet(nil)
	test.That(t, err, test.ShouldNotBeNil)

	geoms := []ReferenceGeometry{
		{ID: 1, Corners: squareAt(0, 0, 100)},
		{ID: 2, Corners: squareAt(500, 0, 100)},
	}
	rs, err := NewReferenceSet(geoms)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rs.Len(), test.ShouldEqual, 2)

	g, ok := rs.Lookup(2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, g.Corners[TopLeft], test.ShouldResemble, r2.Point{X: 500, Y: 0})

	_, ok = rs.Lookup(99)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, rs.IDs(), test.ShouldHaveLength, 2)

	_, err = NewReferenceSet(append(geoms, ReferenceGeometry{ID: 1, Corners: squareAt(9, 9, 5)}))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewReferenceSet([]ReferenceGeometry{{ID: 3}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewReferenceSetFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markers.json")
	content := `[
		{"id": 1, "corners": [{"X": 0, "Y": 0}, {"X": 100, "Y": 0}, {"X": 100, "Y": 100}, {"X": 0, "Y": 100}]},
		{"id": 5, "corners": [{"X": 500, "Y": 0}, {"X": 600, "Y": 0}, {"X": 600, "Y": 100}, {"X": 500, "Y": 100}]}
	]`
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)

	rs, err := NewReferenceSetFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rs.Len(), test.ShouldEqual, 2)
	g, ok := rs.Lookup(5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, g.Corners[TopLeft], test.ShouldResemble, r2.Point{X: 500, Y: 0})

	_, err = NewReferenceSetFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	badPath := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(badPath, []byte(`{"not": "a list"}`), 0o600), test.ShouldBeNil)
	_, err = NewReferenceSetFromJSONFile(badPath)
	test.That(t, err, test.ShouldNotBeNil)
}
