// Package geometry holds the PostGIS column types used by the tenant data
// models. Values are stored as geometry with SRID 4326 and always leave the
// service as WKT text, regardless of the representation the database hands
// back.
package geometry

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const srid = 4326

// toWKT converts a stored geometry value to its WKT form. It accepts the
// EWKB hex string PostGIS returns, raw WKB bytes, or text that is already
// WKT, which passes through unchanged.
func toWKT(v interface{}) (string, error) {
	g, err := decode(v)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", nil
	}
	return wkt.Marshal(g)
}

func decode(v interface{}) (geom.T, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(value) == 0 {
			return nil, nil
		}
		if isHex(value) {
			return ewkbhex.Decode(string(value))
		}
		return wkb.Unmarshal(value)
	case string:
		if value == "" {
			return nil, nil
		}
		if isHex([]byte(value)) {
			return ewkbhex.Decode(value)
		}
		return wkt.Unmarshal(value)
	default:
		return nil, fmt.Errorf("geometry: unsupported source type %T", v)
	}
}

func isHex(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(b) > 0
}

// Point is a 3-D point column (geometry(PointZ,4326)). The zero value is an
// empty point that marshals to JSON null.
type Point struct {
	g *geom.Point
}

// NewPointZ builds a point from lon/lat/elevation coordinates.
func NewPointZ(x, y, z float64) Point {
	p := geom.NewPoint(geom.XYZ).MustSetCoords(geom.Coord{x, y, z})
	p.SetSRID(srid)
	return Point{g: p}
}

// IsZero reports whether the point holds no geometry.
func (p Point) IsZero() bool { return p.g == nil }

// Coords returns the x, y, z coordinates. ok is false for an empty point.
func (p Point) Coords() (x, y, z float64, ok bool) {
	if p.g == nil {
		return 0, 0, 0, false
	}
	c := p.g.Coords()
	if len(c) < 3 {
		return c.X(), c.Y(), 0, true
	}
	return c[0], c[1], c[2], true
}

// WKT renders the point as well-known text, or "" when empty.
func (p Point) WKT() (string, error) {
	if p.g == nil {
		return "", nil
	}
	return wkt.Marshal(p.g)
}

// Scan implements sql.Scanner.
func (p *Point) Scan(v interface{}) error {
	g, err := decode(v)
	if err != nil {
		return fmt.Errorf("geometry: scanning point: %w", err)
	}
	if g == nil {
		p.g = nil
		return nil
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return fmt.Errorf("geometry: expected point, got %T", g)
	}
	p.g = pt
	return nil
}

// Value implements driver.Valuer for drivers that bypass GormValue.
func (p Point) Value() (driver.Value, error) {
	if p.g == nil {
		return nil, nil
	}
	return ewkbhex.Encode(p.g, ewkbhex.NDR)
}

// GormDataType declares the column type for migrations.
func (Point) GormDataType() string { return "geometry(PointZ,4326)" }

// GormValue writes the point through ST_GeomFromText so the database stores
// indexed geometry, not text.
func (p Point) GormValue(_ context.Context, _ *gorm.DB) clause.Expr {
	if p.g == nil {
		return clause.Expr{SQL: "NULL"}
	}
	text, err := wkt.Marshal(p.g)
	if err != nil {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{
		SQL:  "ST_SetSRID(ST_GeomFromText(?), 4326)",
		Vars: []interface{}{text},
	}
}

// MarshalJSON emits the WKT text, or null when empty.
func (p Point) MarshalJSON() ([]byte, error) {
	if p.g == nil {
		return []byte("null"), nil
	}
	text, err := wkt.Marshal(p.g)
	if err != nil {
		return nil, err
	}
	return json.Marshal(text)
}

// Polygon is a nullable polygon column (geometry(Polygon,4326)).
type Polygon struct {
	g *geom.Polygon
}

// NewPolygon builds a polygon from a single outer ring of x/y coordinate
// pairs. The ring must be closed.
func NewPolygon(ring [][]float64) (Polygon, error) {
	coords := make([]geom.Coord, 0, len(ring))
	for _, pt := range ring {
		if len(pt) < 2 {
			return Polygon{}, fmt.Errorf("geometry: ring vertex needs 2 coordinates, got %d", len(pt))
		}
		coords = append(coords, geom.Coord{pt[0], pt[1]})
	}
	pg := geom.NewPolygon(geom.XY)
	if _, err := pg.SetCoords([][]geom.Coord{coords}); err != nil {
		return Polygon{}, fmt.Errorf("geometry: building polygon: %w", err)
	}
	pg.SetSRID(srid)
	return Polygon{g: pg}, nil
}

// FromGeom wraps an already-decoded polygon, as produced by GeoJSON parsing.
func FromGeom(g geom.T) (Polygon, error) {
	if g == nil {
		return Polygon{}, nil
	}
	pg, ok := g.(*geom.Polygon)
	if !ok {
		return Polygon{}, fmt.Errorf("geometry: expected polygon, got %T", g)
	}
	pg.SetSRID(srid)
	return Polygon{g: pg}, nil
}

// IsZero reports whether the polygon is null.
func (p Polygon) IsZero() bool { return p.g == nil }

// WKT renders the polygon as well-known text, or "" when null.
func (p Polygon) WKT() (string, error) {
	if p.g == nil {
		return "", nil
	}
	return wkt.Marshal(p.g)
}

// Scan implements sql.Scanner.
func (p *Polygon) Scan(v interface{}) error {
	g, err := decode(v)
	if err != nil {
		return fmt.Errorf("geometry: scanning polygon: %w", err)
	}
	if g == nil {
		p.g = nil
		return nil
	}
	pg, ok := g.(*geom.Polygon)
	if !ok {
		return fmt.Errorf("geometry: expected polygon, got %T", g)
	}
	p.g = pg
	return nil
}

// Value implements driver.Valuer.
func (p Polygon) Value() (driver.Value, error) {
	if p.g == nil {
		return nil, nil
	}
	return ewkbhex.Encode(p.g, ewkbhex.NDR)
}

// GormDataType declares the column type for migrations.
func (Polygon) GormDataType() string { return "geometry(Polygon,4326)" }

// GormValue writes the polygon through ST_GeomFromText.
func (p Polygon) GormValue(_ context.Context, _ *gorm.DB) clause.Expr {
	if p.g == nil {
		return clause.Expr{SQL: "NULL"}
	}
	text, err := wkt.Marshal(p.g)
	if err != nil {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{
		SQL:  "ST_SetSRID(ST_GeomFromText(?), 4326)",
		Vars: []interface{}{text},
	}
}

// MarshalJSON emits the WKT text, or null.
func (p Polygon) MarshalJSON() ([]byte, error) {
	if p.g == nil {
		return []byte("null"), nil
	}
	text, err := wkt.Marshal(p.g)
	if err != nil {
		return nil, err
	}
	return json.Marshal(text)
}

// ValidatePolygonWKT checks that s parses as a WKT polygon, as required for
// intersection filters.
func ValidatePolygonWKT(s string) error {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return fmt.Errorf("geometry: invalid polygon WKT: %w", err)
	}
	if _, ok := g.(*geom.Polygon); !ok {
		return fmt.Errorf("geometry: expected POLYGON, got %T", g)
	}
	return nil
}
