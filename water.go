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

// Physical constants for the hydrology stage.
const (
	waterDensity  = 1000.0   // kg/m³
	gravity       = 9.80665  // m/s²
	fusionLatent  = 334000.0 // latent heat of fusion (J/kg)
	sqrt2         = 1.4142135623730951
)

// LandUse carries the per-land-use-class hydrologic parameters.
type LandUse struct {
	Name         string
	ManningN     float64 `desc:"Overland Manning roughness" units:"s/m^⅓"`
	Interception float64 `desc:"Interception storage capacity" units:"m"`
}

// SoilType carries the per-soil-class infiltration and erosion
// parameters.
type SoilType struct {
	Name string

	// Green-Ampt infiltration.
	Kh              float64 `desc:"Saturated hydraulic conductivity" units:"m/s"`
	CapillaryHead   float64 `desc:"Capillary suction head at the wetting front" units:"m"`
	MoistureDeficit float64 `desc:"Soil moisture deficit" units:"fraction"`

	// ErosionOpt selects the erosion formulation for this soil.
	ErosionOpt int
}

// Erosion formulations selected per soil or sediment type.
const (
	ErosionUSLE = iota
	ErosionExcessShear
	ErosionTransportCapacity
)

// waterTransport computes all hydrologic derivative terms for the
// step: rainfall and interception, snowmelt, Green-Ampt infiltration,
// 8-direction kinematic overland routing, channel routing, floodplain
// exchange, and outlet discharge. All rates are computed from state at
// time t only.
func (d *TREX) waterTransport() {
	t := d.SimTime

	for _, c := range d.Cells {
		c.resetFluxes()

		// Gross rainfall from this cell's gauge.
		c.GrossRain = 0
		if len(d.RainGauges) > 0 {
			g := c.RainGauge
			if g >= len(d.RainGauges) {
				g = 0
			}
			c.GrossRain = d.RainGauges[g].Value(t)
		}

		// Interception takes rain until the remaining storage is
		// exhausted.
		c.iceptRate = 0
		if c.Interception > 0 && c.GrossRain > 0 {
			c.iceptRate = min(c.GrossRain, c.Interception/d.Dt)
		}

		// Snowmelt driven by incident solar radiation adds to the
		// net rain supply.
		c.meltRate = 0
		if c.SWE > 0 && c.SolarRad > 0 {
			c.meltRate = min(c.SolarRad/(waterDensity*fusionLatent), c.SWE/d.Dt)
		}
		c.NetRain = c.GrossRain - c.iceptRate + c.meltRate

		// Green-Ampt infiltration with wetting-front tracking.
		c.InfRate = 0
		if d.Infiltration && c.Soil != nil && c.Soil.Kh > 0 {
			c.InfRate = c.greenAmpt(d.Dt)
		}

		c.FlowIn[SourceLoad] = c.NetRain * c.Area
		c.FlowOut[SourceLoad] = c.InfRate * c.Area
	}

	d.overlandRouting()

	if d.Channels {
		d.eachNode(func(n *ChannelNode) { n.resetFluxes() })
		d.channelRouting()
		d.floodplainWaterTransfer()
	}

	d.shearStress()
}

// greenAmpt returns the infiltration rate for the step (m/s), limited
// by the water available at the surface.
func (c *Cell) greenAmpt(dt float64) float64 {
	s := c.Soil
	f := s.Kh
	if c.WettingFront > 0 {
		f = s.Kh * (1 + (s.CapillaryHead+c.Depth)*s.MoistureDeficit/c.WettingFront)
	}
	available := c.Depth/dt + c.NetRain
	if f > available {
		f = available
	}
	if f < 0 {
		f = 0
	}
	return f
}

// overlandRouting computes kinematic-wave flows between each cell and
// its eight compass neighbors, and the outlet discharge for boundary
// cells.
func (d *TREX) overlandRouting() {
	w := d.CellSize
	for _, c := range d.Cells {
		if c.Depth <= 0 || c.LandUse == nil {
			continue
		}
		n := c.LandUse.ManningN
		hc := c.Elevation + c.Depth
		for dir, nb := range c.Neighbors {
			if nb == nil {
				continue
			}
			dist := w
			if dir%2 == 1 { // diagonal neighbor
				dist = w * sqrt2
			}
			sf := (hc - (nb.Elevation + nb.Depth)) / dist
			if sf <= 0 {
				continue
			}
			q := w / n * math.Pow(c.Depth, 5.0/3.0) * math.Sqrt(sf)
			c.FlowOut[dir] += q
			nb.FlowIn[opposite(dir)] += q
		}
		if c.outlet != nil {
			sf := c.outlet.Slope
			if sf <= 0 {
				sf = c.Slope
			}
			if sf > 0 {
				q := w / n * math.Pow(c.Depth, 5.0/3.0) * math.Sqrt(sf)
				c.FlowOut[SourceBoundary] += q
			}
		}
	}
}

// channelRouting computes flows along each link's node chain and
// across junctions. The friction slope is the water-surface slope
// (diffusive wave) when it is usable, falling back to the bed slope.
func (d *TREX) channelRouting() {
	d.eachNode(func(n *ChannelNode) {
		if n.Depth <= 0 {
			return
		}
		a := n.flowArea(n.Depth)
		p := n.wettedPerimeter(n.Depth)
		if a <= 0 || p <= 0 {
			return
		}
		r := a / p
		for _, down := range n.Down {
			sf := ((n.Elevation + n.Depth) - (down.Elevation + down.Depth)) /
				(0.5 * (n.Length + down.Length))
			if sf <= 0 {
				sf = n.Slope
			}
			if sf <= 0 {
				continue
			}
			q := a * math.Pow(r, 2.0/3.0) * math.Sqrt(sf) / n.ManningN / float64(len(n.Down))
			n.FlowOut[SourceS] += q
			down.FlowIn[SourceN] += q
		}
		if n.outlet != nil {
			sf := n.outlet.Slope
			if sf <= 0 {
				sf = n.Slope
			}
			if sf > 0 {
				q := a * math.Pow(r, 2.0/3.0) * math.Sqrt(sf) / n.ManningN
				n.FlowOut[SourceBoundary] += q
			}
		}
		// Channel transmission loss through the bed.
		if d.TransLoss && n.Cell.Soil != nil && n.Cell.Soil.Kh > 0 {
			q := n.Cell.Soil.Kh * n.Area
			qmax := n.flowArea(n.Depth) * n.Length / d.Dt
			n.FlowOut[SourceLoad] += min(q, qmax)
		}
	})
}

// floodplainWaterTransfer exchanges water between each channel node
// and its overland cell: channel water above the bank tops spills onto
// the plane, and plane water re-enters an unfilled channel.
func (d *TREX) floodplainWaterTransfer() {
	d.eachNode(func(n *ChannelNode) {
		c := n.Cell
		if n.Depth > n.BankHeight {
			// Overtopping: the volume above the banks spills out.
			excess := (n.flowArea(n.Depth) - n.flowArea(n.BankHeight)) * n.Length
			q := excess / d.Dt
			n.FlowOut[SourceFloodplain] += q
			c.FlowIn[SourceFloodplain] += q
		} else if c.Depth > 0 {
			// Re-entry: plane water drains into the channel until
			// the channel fills to the banks.
			room := (n.flowArea(n.BankHeight) - n.flowArea(n.Depth)) * n.Length
			q := min(c.Depth*c.Area, room) / d.Dt
			c.FlowOut[SourceFloodplain] += q
			n.FlowIn[SourceFloodplain] += q
		}
	})
}

// shearStress computes the bed shear stress for every water column;
// it is the primary coupling into solids erosion.
func (d *TREX) shearStress() {
	for _, c := range d.Cells {
		sf := c.Slope
		c.Tau = waterDensity * gravity * c.Depth * sf
		if c.Tau > c.TauPeak {
			c.TauPeak = c.Tau
			c.TauAge = 0
		} else {
			c.TauAge += d.Dt / 3600.
		}
	}
	d.eachNode(func(n *ChannelNode) {
		a := n.flowArea(n.Depth)
		p := n.wettedPerimeter(n.Depth)
		if p > 0 {
			r := a / p
			n.Tau = waterDensity * gravity * r * n.Slope
		} else {
			n.Tau = 0
		}
		if n.Tau > n.TauPeak {
			n.TauPeak = n.Tau
			n.TauAge = 0
		} else {
			n.TauAge += d.Dt / 3600.
		}
	})
}

// waterBalance updates overland and channel depths from the assembled
// flows, draws down interception and snow storage, advances the
// wetting front, and checks for negative state.
func (d *TREX) waterBalance() error {
	for _, c := range d.Cells {
		c.SWENew = c.SWE - c.meltRate*d.Dt
		c.Interception = math.Max(0, c.Interception-c.iceptRate*d.Dt)

		var in, out float64
		for s := 0; s < NSources; s++ {
			in += c.FlowIn[s]
			out += c.FlowOut[s]
			c.WaterIn[s] += c.FlowIn[s] * d.Dt
			c.WaterOut[s] += c.FlowOut[s] * d.Dt
		}
		c.DepthNew = c.Depth + (in-out)*d.Dt/c.Area

		if c.DepthNew < -depthTolerance {
			return negativeState(d, ErrNegativeDepthOverland, c, nil, -1, c.DepthNew)
		}
		if c.DepthNew < 0 {
			c.DepthNew = 0
		}
		if c.SWENew < -depthTolerance {
			return negativeState(d, ErrNegativeSWE, c, nil, -1, c.SWENew)
		}
		if c.SWENew < 0 {
			c.SWENew = 0
		}

		if d.Infiltration && c.Soil != nil {
			c.WettingFront += c.InfRate * d.Dt / math.Max(c.Soil.MoistureDeficit, 1e-10)
		}

		if c.outlet != nil {
			q := c.FlowOut[SourceBoundary]
			if q > c.outlet.PeakFlow {
				c.outlet.PeakFlow = q
				c.outlet.PeakTime = d.SimTime
			}
		}
	}

	var err error
	d.eachNode(func(n *ChannelNode) {
		if err != nil {
			return
		}
		var in, out float64
		for s := 0; s < NSources; s++ {
			in += n.FlowIn[s]
			out += n.FlowOut[s]
			n.WaterIn[s] += n.FlowIn[s] * d.Dt
			n.WaterOut[s] += n.FlowOut[s] * d.Dt
		}
		vol := n.flowArea(n.Depth)*n.Length + (in-out)*d.Dt
		if vol < -depthTolerance*n.Area {
			err = negativeState(d, ErrNegativeDepthChannel, nil, n, -1, vol)
			return
		}
		if vol < 0 {
			vol = 0
		}
		n.DepthNew = n.depthFromVolume(vol)

		if n.outlet != nil {
			q := n.FlowOut[SourceBoundary]
			if q > n.outlet.PeakFlow {
				n.outlet.PeakFlow = q
				n.outlet.PeakTime = d.SimTime
			}
		}
	})
	return err
}

// depthTolerance guards the negative-depth check against float noise.
const depthTolerance = 1e-12

// depthFromVolume inverts the trapezoidal cross-section for the depth
// holding volume vol in this node.
func (n *ChannelNode) depthFromVolume(vol float64) float64 {
	a := vol / n.Length
	if a <= 0 {
		return 0
	}
	if n.SideSlope == 0 {
		return a / n.BottomWidth
	}
	b := n.BottomWidth
	z := n.SideSlope
	return (-b + math.Sqrt(b*b+4*z*a)) / (2 * z)
}
