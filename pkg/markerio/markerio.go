// Package markerio persists marker tables as XML documents:
//
//	<FrameMarkers version="1" nbMarkers="6">
//	  <Slice index="12">
//	    <Marker role="0">25 60 24</Marker>
//	    ...
//	  </Slice>
//	</FrameMarkers>
//
// Coordinates use the shortest decimal form that round-trips, so a loaded
// table is bit-identical to the saved one.
package markerio

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/models"
)

// Version is the document version written by Serialize
const Version = 1

type document struct {
	XMLName   xml.Name       `xml:"FrameMarkers"`
	Version   int            `xml:"version,attr"`
	NbMarkers int            `xml:"nbMarkers,attr"`
	Slices    []sliceElement `xml:"Slice"`
}

type sliceElement struct {
	Index   int             `xml:"index,attr"`
	Markers []markerElement `xml:"Marker"`
}

type markerElement struct {
	Role   int    `xml:"role,attr"`
	Coords string `xml:",chardata"`
}

func formatPoint(p r3.Vec) string {
	return strings.Join([]string{
		strconv.FormatFloat(p.X, 'g', -1, 64),
		strconv.FormatFloat(p.Y, 'g', -1, 64),
		strconv.FormatFloat(p.Z, 'g', -1, 64),
	}, " ")
}

func parsePoint(s string) (r3.Vec, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return r3.Vec{}, fmt.Errorf("expected 3 coordinates, got %d", len(fields))
	}
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vec{}, err
		}
		v[i] = x
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Serialize writes the table as an XML document
func Serialize(w io.Writer, table *models.MarkerTable) error {
	doc := document{Version: Version, NbMarkers: table.NbMarkers}
	for _, idx := range table.Slices() {
		set, _ := table.Get(idx)
		el := sliceElement{Index: idx}
		for _, role := range set.Roles() {
			el.Markers = append(el.Markers, markerElement{
				Role:   int(role),
				Coords: formatPoint(set.Points[role]),
			})
		}
		doc.Slices = append(doc.Slices, el)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return models.NewIOError("failed to write marker document", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return models.NewIOError("failed to encode marker document", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return models.NewIOError("failed to write marker document", err)
	}
	return nil
}

// Deserialize reads a document written by Serialize
func Deserialize(r io.Reader) (*models.MarkerTable, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, models.NewIOError("failed to decode marker document", err)
	}
	if doc.Version != Version {
		return nil, models.NewIOError(fmt.Sprintf("unsupported marker document version %d", doc.Version), nil)
	}

	if !models.ValidMarkerCount(doc.NbMarkers) && (doc.NbMarkers != 0 || len(doc.Slices) != 0) {
		return nil, models.NewIOError(fmt.Sprintf("invalid marker count %d", doc.NbMarkers), nil)
	}

	table := models.NewMarkerTable()
	table.NbMarkers = doc.NbMarkers
	for _, el := range doc.Slices {
		if _, dup := table.Get(el.Index); dup {
			return nil, models.NewIOError(fmt.Sprintf("slice %d appears twice", el.Index), nil)
		}
		var set models.MarkerSet
		for _, m := range el.Markers {
			if m.Role < 0 || m.Role >= models.MaxMarkers {
				return nil, models.NewIOError(fmt.Sprintf("slice %d has invalid role %d", el.Index, m.Role), nil)
			}
			role := models.Role(m.Role)
			if set.Present[role] {
				return nil, models.NewIOError(fmt.Sprintf("slice %d has role %v twice", el.Index, role), nil)
			}
			p, err := parsePoint(m.Coords)
			if err != nil {
				return nil, models.NewIOError(fmt.Sprintf("slice %d role %v", el.Index, role), err)
			}
			set.Set(role, p)
		}
		if err := table.Set(el.Index, set); err != nil {
			return nil, models.NewIOError("invalid marker document", err)
		}
	}
	return table, nil
}

// SaveFile writes the table to path, creating parent directories
func SaveFile(path string, table *models.MarkerTable) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.NewIOError("failed to create marker directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return models.NewIOError("failed to create marker file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = models.NewIOError("failed to close marker file", cerr)
		}
	}()
	return Serialize(f, table)
}

// LoadFile reads a table from path
func LoadFile(path string) (*models.MarkerTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewIOError("failed to open marker file", err)
	}
	defer f.Close()
	return Deserialize(f)
}
