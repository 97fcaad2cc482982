/*
Copyright © 2018 the TREX authors.
This file is part of TREX.

TREX is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TREX is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TREX.  If not, see <http://www.gnu.org/licenses/>.
*/

package trex

import "math"

// Solar constants, following Liston and Elder (2006).
const (
	solarConstant = 1370.0  // average incident solar radiation at the top of the atmosphere (W/m²)
	daysPerYear   = 365.25  // counting leap years
	solsticeDay   = 173.0   // julian day of the summer solstice
	degToRad      = math.Pi / 180.0
)

// computeSolarRadiation recomputes the incident solar radiation at the
// land surface for every cell from the solar position (declination,
// hour angle, zenith, azimuth) with adjustments for terrain slope and
// aspect, cloud cover, and sky view. The result feeds photolysis
// kinetics and snowmelt.
func (e *Environment) computeSolarRadiation() {
	d := e.d

	// Julian day for the current simulation time; the hour of day is
	// its fractional part.
	jday := d.TZero + d.SimTime/24.0
	for jday > daysPerYear {
		jday -= daysPerYear
	}
	hour := (jday - math.Trunc(jday)) * 24.0

	declination := 0.41 * math.Cos(2.0*math.Pi*(jday-solsticeDay)/daysPerYear)
	hangle := (hour*15.0 - 180.0) * degToRad

	lat := d.Latitude * degToRad
	cosz := math.Sin(declination)*math.Sin(lat) +
		math.Cos(declination)*math.Cos(lat)*math.Cos(hangle)
	if cosz < 0 {
		cosz = 0
	}
	sinz := math.Sqrt(1.0 - cosz*cosz)

	// Azimuth of the sun, with due south at zero azimuth. The
	// correction keeps azimuth angles below the local horizon
	// measured from the normal to the slope.
	azsun := math.Asin(math.Max(-1.0, math.Min(1.0, math.Cos(declination)*math.Sin(hangle)/sinz)))
	if hangle < 0 {
		if hangle < azsun {
			azsun = -math.Pi - azsun
		}
	} else if hangle > 0 {
		if hangle > azsun {
			azsun = math.Pi - azsun
		}
	}

	for _, c := range d.Cells {
		// Convert the slope aspect (north zero) to a slope azimuth
		// with south at zero.
		var azslope float64
		if c.Aspect >= 180.0 {
			azslope = c.Aspect - 180.0
		} else {
			azslope = c.Aspect + 180.0
		}

		// Angle between the slope normal and the direct beam.
		cosi := math.Cos(c.Slope)*cosz +
			math.Sin(c.Slope)*sinz*math.Cos(azsun-azslope*degToRad)
		if cosi < 0 {
			cosi = 0
		}
		if cosz <= 0 {
			cosi = 0
		}

		// Atmospheric transmissivities for direct and diffuse
		// radiation, accounting for cloud cover.
		psiDirect := (0.6 + 0.2*cosz) * (1.0 - c.CloudCover)
		psiDiffuse := (0.3 + 0.1*cosz) * c.CloudCover

		// Land cover transmissivity; gaps in canopy are folded into
		// the sky view factor instead.
		const psiCover = 0.0

		qsiDirect := cosi * psiDirect * solarConstant
		qsiDiffuse := cosz * psiDiffuse * solarConstant

		c.SolarRad = ((1.0-c.SkyView)*psiCover + c.SkyView) * (qsiDirect + qsiDiffuse)
	}
}
