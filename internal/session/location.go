package session

import (
	"fmt"
	"net"

	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/oschwald/geoip2-golang"
)

// LocationResolver maps a client IP to an approximate location. Lookups are
// best effort; an unresolvable IP yields an empty Location, never an error
// that would block login.
type LocationResolver interface {
	Resolve(ip string) models.Location
}

// GeoIPResolver resolves locations from a MaxMind GeoLite2/GeoIP2 City
// database file.
type GeoIPResolver struct {
	reader *geoip2.Reader
}

func NewGeoIPResolver(dbPath string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &GeoIPResolver{reader: reader}, nil
}

func (r *GeoIPResolver) Resolve(ip string) models.Location {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return models.Location{}
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		return models.Location{}
	}

	loc := models.Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc
}

func (r *GeoIPResolver) Close() error {
	return r.reader.Close()
}

// NoopResolver is used when no GeoIP database is configured.
type NoopResolver struct{}

func (NoopResolver) Resolve(string) models.Location {
	return models.Location{}
}
