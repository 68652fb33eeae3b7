// Package geo maps client addresses to approximate coordinates and
// scores record candidates by great-circle distance.
package geo

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Coordinate is an approximate latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', 2, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 2, 64)
}

// Locator resolves a client address to a coordinate. Implementations
// must be safe for concurrent use and side-effect free.
type Locator interface {
	Locate(ip net.IP) (Coordinate, bool)
}

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between two coordinates in
// kilometers.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Regions are the named record tags, mapped to a representative
// coordinate for distance scoring.
var Regions = map[string]Coordinate{
	"nnam": {Lat: 52, Lon: -100}, // northern North America
	"snam": {Lat: 36, Lon: -98},  // southern North America
	"nsam": {Lat: 6, Lon: -66},   // northern South America
	"ssam": {Lat: -34, Lon: -64}, // southern South America
	"weu":  {Lat: 48, Lon: 2},    // western Europe
	"ceu":  {Lat: 50, Lon: 15},   // central Europe
	"eeu":  {Lat: 50, Lon: 30},   // eastern Europe
	"ru":   {Lat: 55, Lon: 37},   // Russia
	"me":   {Lat: 29, Lon: 45},   // Middle East
	"naf":  {Lat: 30, Lon: 10},   // northern Africa
	"maf":  {Lat: 8, Lon: 10},    // middle Africa
	"saf":  {Lat: -29, Lon: 24},  // southern Africa
	"in":   {Lat: 21, Lon: 78},   // India
	"seas": {Lat: 10, Lon: 106},  // southeastern Asia
	"neas": {Lat: 37, Lon: 127},  // northeastern Asia
	"oc":   {Lat: -27, Lon: 133}, // Oceania
}

// ParseTag resolves a record geo tag, either a named region or a raw
// "lat,lon" pair.
func ParseTag(tag string) (Coordinate, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return Coordinate{}, false
	}

	if c, ok := Regions[tag]; ok {
		return c, true
	}

	parts := strings.SplitN(tag, ",", 2)
	if len(parts) != 2 {
		return Coordinate{}, false
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinate{}, false
	}

	return Coordinate{Lat: lat, Lon: lon}, true
}

// UnknownBucket is the cache key bucket for clients without a known
// location.
const UnknownBucket = "?"

// Bucket rounds a coordinate down to a grid of the given size in
// degrees. Clients in the same cell share answer cache entries.
func Bucket(c Coordinate, known bool, degrees float64) string {
	if !known {
		return UnknownBucket
	}
	if degrees <= 0 {
		degrees = 10
	}

	lat := math.Floor(c.Lat/degrees) * degrees
	lon := math.Floor(c.Lon/degrees) * degrees

	return fmt.Sprintf("%g/%g", lat, lon)
}
