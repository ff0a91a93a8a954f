package arcgis

import (
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

const wgs84 = 4326

var ErrUnsupportedGeometry = errors.New("arcgis: unsupported geometry type")

// toEsriGeometry encodes a GeoJSON geometry in the Esri JSON geometry format.
// Polygon rings are re-wound to the Esri convention (outer rings clockwise,
// holes counter-clockwise); the input geometry is left untouched.
func toEsriGeometry(g orb.Geometry) (map[string]interface{}, error) {
	sr := map[string]interface{}{"wkid": wgs84}

	switch geom := g.(type) {
	case orb.Point:
		return map[string]interface{}{"x": geom.Lon(), "y": geom.Lat(), "spatialReference": sr}, nil
	case orb.MultiPoint:
		return map[string]interface{}{"points": points(geom), "spatialReference": sr}, nil
	case orb.LineString:
		return map[string]interface{}{"paths": [][][]float64{points(geom)}, "spatialReference": sr}, nil
	case orb.MultiLineString:
		paths := make([][][]float64, 0, len(geom))
		for _, ls := range geom {
			paths = append(paths, points(ls))
		}
		return map[string]interface{}{"paths": paths, "spatialReference": sr}, nil
	case orb.Polygon:
		return map[string]interface{}{"rings": rings(geom), "spatialReference": sr}, nil
	case orb.MultiPolygon:
		var all [][][]float64
		for _, p := range geom {
			all = append(all, rings(p)...)
		}
		return map[string]interface{}{"rings": all, "spatialReference": sr}, nil
	case nil:
		return nil, errors.Wrap(ErrUnsupportedGeometry, "no geometry")
	default:
		return nil, errors.Wrapf(ErrUnsupportedGeometry, "%s", g.GeoJSONType())
	}
}

func points(pts []orb.Point) [][]float64 {
	out := make([][]float64, 0, len(pts))
	for _, p := range pts {
		out = append(out, []float64{p.Lon(), p.Lat()})
	}
	return out
}

func rings(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p))
	for i, r := range p {
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}

		if r.Orientation() != want {
			r = r.Clone()
			r.Reverse()
		}
		out = append(out, points(r))
	}
	return out
}
