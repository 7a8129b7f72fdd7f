package pvmodel

import (
	"math"
	"time"
)

const degToRad = math.Pi / 180

// Site locates the PV plant. Defaults point at Munich, matching the fitted
// cloud cover statistics in clearsky.go.
type Site struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// DefaultSite returns the Munich reference site.
func DefaultSite() Site {
	return Site{Latitude: 48.12, Longitude: 11.60, Altitude: 34}
}

// CosZenith returns the cosine of the solar zenith angle at t, from solar
// declination and hour angle. Negative values mean the sun is below the
// horizon.
func (s Site) CosZenith(t time.Time) float64 {
	ut := t.UTC()
	doy := float64(ut.YearDay())
	decl := -23.45 * degToRad * math.Cos(2*math.Pi*(doy+10)/365)

	solarHour := float64(ut.Hour()) +
		float64(ut.Minute())/60 +
		float64(ut.Second())/3600 +
		s.Longitude/15
	hourAngle := (solarHour - 12) * 15 * degToRad

	lat := s.Latitude * degToRad
	return math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
}

// ClearskyGHI returns the clear-sky global horizontal irradiance in W/m²
// using the Haurwitz model, with a small altitude correction.
func (s Site) ClearskyGHI(t time.Time) float64 {
	cz := s.CosZenith(t)
	if cz <= 0 {
		return 0
	}
	ghi := 1098 * cz * math.Exp(-0.059/cz)
	return ghi * (1 + 8e-5*s.Altitude)
}
