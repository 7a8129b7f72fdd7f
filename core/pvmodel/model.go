package pvmodel

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config describes the simulated PV plant. GainM2 is the effective aperture
// of the plant: AC watts produced per W/m² of horizontal irradiance, folding
// module area, efficiency and inverter losses into one factor.
type Config struct {
	Site   Site    `json:"site"`
	GainM2 float64 `json:"gain_m2"`
	Seed   uint64  `json:"seed"`
}

// SetDefaults fills unset fields with the Munich reference plant.
func (c *Config) SetDefaults() {
	if c.Site == (Site{}) {
		c.Site = DefaultSite()
	}
	if c.GainM2 <= 0 {
		c.GainM2 = 0.26
	}
}

// Model turns tick instants into simulated AC generation values.
type Model struct {
	site Site
	gain float64
	csi  *ClearSkyIndexModel
}

// New creates a Model seeded at the given start instant. A zero seed draws a
// random one.
func New(cfg Config, start time.Time) *Model {
	cfg.SetDefaults()
	var src rand.Source
	if cfg.Seed != 0 {
		src = rand.NewPCG(cfg.Seed, cfg.Seed)
	}
	return &Model{
		site: cfg.Site,
		gain: cfg.GainM2,
		csi:  NewClearSkyIndexModel(start, src),
	}
}

// Next returns the AC power in W for the instant t. Generation is never
// negative and is zero while the sun is below the horizon.
func (m *Model) Next(t time.Time) float64 {
	cosZ := m.site.CosZenith(t)
	if cosZ <= 0 {
		// Keep the stochastic state advancing through the night.
		m.csi.Next(t)
		return 0
	}
	ghi := m.site.ClearskyGHI(t)

	csi := m.csi.Next(t)
	// Cloud enhancement cap depending on the solar zenith angle.
	cap := 27.21*math.Exp(-114*cosZ) + 1.665*math.Exp(-4.494*cosZ) + 1.08
	if csi > cap {
		csi = cap
	}

	p := ghi * csi * m.gain
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	return p
}
