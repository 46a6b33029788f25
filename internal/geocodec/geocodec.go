// Package geocodec converts coordinates to DigiPin codes and back.
//
// A DigiPin is ten symbols drawn from a 4x4 grid, each symbol selecting one
// quadrant of the current bounding box. The encoded form carries a '-' after
// the third and sixth symbol: "39J-438-TJC7".
package geocodec

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Bounding box covered by the grid.
const (
	MinLat = 2.5
	MaxLat = 38.5
	MinLon = 63.5
	MaxLon = 99.5
)

// Levels is the number of subdivisions encoded in a DigiPin.
const Levels = 10

// Separator is inserted after the third and sixth symbol.
const Separator = '-'

// EncodedLen is the length of a formatted DigiPin.
const EncodedLen = Levels + 2

// grid maps (row, col) to a symbol. Row 0 is the northern edge.
var grid = [4][4]byte{
	{'F', 'C', '9', '8'},
	{'J', '3', '2', '7'},
	{'K', '4', '5', '6'},
	{'L', 'M', 'P', 'T'},
}

// ErrInvalidCode is returned by Decode for strings that are not DigiPins.
var ErrInvalidCode = errors.New("invalid digipin code")

// RangeError reports a coordinate outside the grid's bounding box.
type RangeError struct {
	Axis  string // "latitude" or "longitude"
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %g out of range [%g, %g]", e.Axis, e.Value, e.Min, e.Max)
}

// Cell is the bounding box addressed by a DigiPin.
type Cell struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Center returns the midpoint of the cell.
func (c Cell) Center() (lat, lon float64) {
	return (c.MinLat + c.MaxLat) / 2, (c.MinLon + c.MaxLon) / 2
}

// Contains reports whether the point lies inside the cell, edges included.
func (c Cell) Contains(lat, lon float64) bool {
	return lat >= c.MinLat && lat <= c.MaxLat && lon >= c.MinLon && lon <= c.MaxLon
}

// Encode returns the DigiPin for (lat, lon).
func Encode(lat, lon float64) (string, error) {
	if err := checkRange(lat, lon); err != nil {
		return "", err
	}

	minLat, maxLat := MinLat, MaxLat
	minLon, maxLon := MinLon, MaxLon

	var b strings.Builder
	b.Grow(EncodedLen)
	for level := 1; level <= Levels; level++ {
		latDiv := (maxLat - minLat) / 4
		lonDiv := (maxLon - minLon) / 4

		row := clampIndex(3 - int(math.Floor((lat-minLat)/latDiv)))
		col := clampIndex(int(math.Floor((lon - minLon) / lonDiv)))

		b.WriteByte(grid[row][col])
		if level == 3 || level == 6 {
			b.WriteByte(Separator)
		}

		maxLat = minLat + latDiv*float64(4-row)
		minLat = minLat + latDiv*float64(3-row)
		minLon = minLon + lonDiv*float64(col)
		maxLon = minLon + lonDiv
	}
	return b.String(), nil
}

// Decode returns the cell addressed by code. Separators are optional and
// symbols are matched case-insensitively.
func Decode(code string) (Cell, error) {
	symbols := Normalize(code)
	if len(symbols) != Levels {
		return Cell{}, fmt.Errorf("%w: want %d symbols, got %d", ErrInvalidCode, Levels, len(symbols))
	}

	c := Cell{MinLat: MinLat, MaxLat: MaxLat, MinLon: MinLon, MaxLon: MaxLon}
	for i := 0; i < len(symbols); i++ {
		row, col, ok := lookup(symbols[i])
		if !ok {
			return Cell{}, fmt.Errorf("%w: unexpected symbol %q at position %d", ErrInvalidCode, symbols[i], i+1)
		}
		latDiv := (c.MaxLat - c.MinLat) / 4
		lonDiv := (c.MaxLon - c.MinLon) / 4

		c.MaxLat = c.MinLat + latDiv*float64(4-row)
		c.MinLat = c.MinLat + latDiv*float64(3-row)
		c.MinLon = c.MinLon + lonDiv*float64(col)
		c.MaxLon = c.MinLon + lonDiv
	}
	return c, nil
}

// Valid reports whether code decodes cleanly.
func Valid(code string) bool {
	_, err := Decode(code)
	return err == nil
}

// Normalize strips separators and whitespace and upper-cases the symbols.
func Normalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == Separator || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Format inserts separators into a bare ten-symbol string. Input of any
// other length is returned unchanged.
func Format(symbols string) string {
	if len(symbols) != Levels {
		return symbols
	}
	return symbols[:3] + string(Separator) + symbols[3:6] + string(Separator) + symbols[6:]
}

func checkRange(lat, lon float64) error {
	if math.IsNaN(lat) || lat < MinLat || lat > MaxLat {
		return &RangeError{Axis: "latitude", Value: lat, Min: MinLat, Max: MaxLat}
	}
	if math.IsNaN(lon) || lon < MinLon || lon > MaxLon {
		return &RangeError{Axis: "longitude", Value: lon, Min: MinLon, Max: MaxLon}
	}
	return nil
}

func clampIndex(i int) int {
	return max(0, min(i, 3))
}

func lookup(sym byte) (row, col int, ok bool) {
	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] == sym {
				return r, c, true
			}
		}
	}
	return 0, 0, false
}
