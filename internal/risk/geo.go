package risk

import (
	"fmt"
	"math"
	"net"

	"github.com/oschwald/geoip2-golang"
)

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// GeoLocator resolves an IP address to an approximate location.
type GeoLocator interface {
	Locate(ip string) (*Location, error)
}

// GeoIPLocator reads a MaxMind GeoIP2/GeoLite2 City database.
type GeoIPLocator struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

func (g *GeoIPLocator) Locate(ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip %q", ip)
	}
	record, err := g.reader.City(parsed)
	if err != nil {
		return nil, err
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return nil, fmt.Errorf("no location for %s", ip)
	}
	return &Location{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		City:      record.City.Names["en"],
		Country:   record.Country.IsoCode,
	}, nil
}

func (g *GeoIPLocator) Close() error {
	return g.reader.Close()
}

const earthRadiusKm = 6371.0

// distanceKm is the great-circle (haversine) distance between two points.
func distanceKm(a, b Location) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(b.Latitude - a.Latitude)
	dLng := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
