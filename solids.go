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

import (
	"math"

	"github.com/ctessum/atmos/advect"
	"gonum.org/v1/gonum/floats"
)

// SolidFraction is one particle class with fixed size, density, and
// settling behavior.
type SolidFraction struct {
	Name  string
	Group int // reporting group index

	Diameter         float64 `desc:"Particle diameter" units:"m"`
	SpecificGravity  float64 `desc:"Specific gravity" units:"-"`
	SettlingVelocity float64 `desc:"Quiescent settling velocity ω" units:"m/s"`
	DimlessDiameter  float64 `desc:"Dimensionless diameter d*" units:"-"`
	Cohesive         bool

	// USLE-style overland erosion factors.
	KUSLE, CUSLE, PUSLE float64

	TauCD float64 `desc:"Critical shear stress for deposition" units:"N/m²"`
	TauCE float64 `desc:"Critical shear stress for erosion" units:"N/m²"`

	// Excess-shear erosion parameters.
	AY    float64 `desc:"Erosion yield coefficient" units:"g/m²/s"`
	MExp  float64 `desc:"Excess-shear intensity exponent" units:"-"`
	Aging float64 `desc:"Bed aging decay rate" units:"1/h"`
}

// probDeposition returns the probability of deposition for shear
// stress tau: max(0, 1−τ/τ_cd), or 1 when no threshold is set.
func (f *SolidFraction) probDeposition(tau float64) float64 {
	if f.TauCD <= 0 {
		return 1
	}
	return math.Max(0, 1-tau/f.TauCD)
}

// solidsTransport computes all solids derivative terms for the step:
// external loads, deposition, erosion, advection, dispersion, and
// floodplain transfer. All fluxes are computed from state at time t.
func (d *TREX) solidsTransport() {
	d.solidsLoads()

	for _, c := range d.Cells {
		d.depositSolids(&c.Column)
		if c.Soil != nil {
			d.erodeSolids(&c.Column, c.Soil.ErosionOpt, c.NetRain, c.unitFlow(d.CellSize), c.Slope, c.TauAge)
		}
	}
	d.overlandSolidsAdvection()
	d.overlandSolidsDispersion()

	if d.Channels {
		d.eachNode(func(n *ChannelNode) {
			d.depositSolids(&n.Column)
			// Channel beds erode by excess shear or transport
			// capacity; rainfall detachment does not apply.
			opt := ErosionExcessShear
			if n.Cell.Soil != nil && n.Cell.Soil.ErosionOpt == ErosionTransportCapacity {
				opt = ErosionTransportCapacity
			}
			q := 0.0
			if a := n.flowArea(n.Depth); a > 0 {
				q = n.velocity() * n.Depth
			}
			d.erodeSolids(&n.Column, opt, 0, q, n.Slope, n.TauAge)
		})
		d.channelSolidsAdvection()
		d.channelSolidsDispersion()
		d.floodplainSolidsTransfer()
	}
}

// unitFlow returns the overland unit discharge (m²/s) used by the
// transport-capacity erosion formulation.
func (c *Cell) unitFlow(w float64) float64 {
	var q float64
	for s := 0; s < 8; s++ {
		q += c.FlowOut[s]
	}
	q += c.FlowOut[SourceBoundary]
	return q / w
}

// solidsLoads applies the point and distributed solids loads.
func (d *TREX) solidsLoads() {
	for _, ld := range d.Loads {
		if ld.Chem {
			continue
		}
		// kg/day to g/s.
		flux := ld.Func.Value(d.SimTime) * 1000. / 86400.
		w := d.loadTarget(ld)
		if w != nil {
			w.SolAcc[ld.Index][ProcLoad].InFlux += flux
		}
	}
}

func (d *TREX) loadTarget(ld *Load) *Column {
	if ld.Link > 0 {
		if ld.Link <= len(d.Links) {
			l := d.Links[ld.Link-1]
			if ld.Node >= 1 && ld.Node <= len(l.Nodes) {
				return &l.Nodes[ld.Node-1].Column
			}
		}
		return nil
	}
	if c := d.CellAt(ld.Row, ld.Col); c != nil {
		return &c.Column
	}
	return nil
}

// depositSolids computes the effective settling flux from the water
// column into the surface stack layer for each fraction.
func (d *TREX) depositSolids(w *Column) {
	if w.Depth <= 0 || w.Stack == nil {
		return
	}
	surf := w.Stack.Surface()
	for i, f := range d.Solids {
		pdep := f.probDeposition(w.Tau)
		flux := f.SettlingVelocity * pdep * w.Csol[i] * w.Area
		w.SolAcc[i][ProcDeposition].OutFlux += flux
		surf.SolAcc[i][ProcDeposition].InFlux += flux
	}
}

// Transport-capacity coefficient and exponents of the Kilinc-Richardson
// relation, with sediment flux in tonnes per meter width per second.
const (
	kilincCoeff  = 25500.
	kilincQExp   = 2.035
	kilincSExp   = 1.664
	kilincKCPRef = 0.15
)

// erodeSolids computes the erosion flux from the surface stack layer
// into the water column, selecting the formulation configured for the
// soil or sediment type.
func (d *TREX) erodeSolids(w *Column, opt int, rain, unitQ, slope, tauAge float64) {
	if w.Stack == nil {
		return
	}
	surf := w.Stack.Surface()

	// Mass share of each fraction in the surface layer.
	totalC := floats.Sum(surf.Csol)
	if totalC <= 0 {
		return
	}

	for i, f := range d.Solids {
		share := surf.Csol[i] / totalC
		var flux float64 // g/s
		switch opt {
		case ErosionUSLE:
			if rain <= 0 {
				continue
			}
			// Rainfall-driven detachment; intensity in mm/h.
			intensity := rain * 1000. * 3600.
			flux = f.KUSLE * f.CUSLE * f.PUSLE * intensity * intensity * w.Area / 3600.
		case ErosionExcessShear:
			if f.TauCE <= 0 || w.Tau <= f.TauCE {
				continue
			}
			aging := math.Exp(-f.Aging * tauAge)
			flux = f.AY * math.Pow(w.Tau/f.TauCE-1, f.MExp) * aging * w.Area
		case ErosionTransportCapacity:
			if unitQ <= 0 || slope <= 0 || w.Depth <= 0 {
				continue
			}
			kcp := f.KUSLE * f.CUSLE * f.PUSLE / kilincKCPRef
			// Capacity in tonnes per meter width per second,
			// converted to g/s across the flow width.
			capacity := kilincCoeff * math.Pow(unitQ, kilincQExp) *
				math.Pow(slope, kilincSExp) * kcp
			width := w.Area / d.CellSize
			flux = capacity * 1e6 * width
			// Capacity is gross; the advective load already in the
			// column fills part of it.
			load := w.Csol[i] * unitQ * width
			flux = math.Max(0, flux-load)
		}
		flux *= share

		// The layer cannot yield more mass than it holds.
		available := surf.Csol[i] * surf.Volume / d.Dt
		if flux > available {
			flux = available
		}
		if flux <= 0 {
			continue
		}
		surf.SolAcc[i][ProcErosion].OutFlux += flux
		w.SolAcc[i][ProcErosion].InFlux += flux
	}
}

// overlandSolidsAdvection moves water-column solids along the overland
// flows. Gross inflow and outflow are tracked separately by direction.
func (d *TREX) overlandSolidsAdvection() {
	for _, c := range d.Cells {
		for i := range d.Solids {
			for dir, nb := range c.Neighbors {
				if nb == nil || c.FlowOut[dir] <= 0 {
					continue
				}
				flux := advect.UpwindFlux(c.FlowOut[dir]*d.AdvScale, c.Csol[i], nb.Csol[i], 1)
				c.SolAdv[i].OutFlux[dir] += flux
				nb.SolAdv[i].InFlux[opposite(dir)] += flux
			}
			if c.FlowOut[SourceBoundary] > 0 {
				flux := c.FlowOut[SourceBoundary] * d.AdvScale * c.Csol[i]
				c.SolAdv[i].OutFlux[SourceBoundary] += flux
			}
		}
	}
}

// overlandSolidsDispersion mixes water-column solids between wet
// neighbors along the concentration gradient. Each neighbor pair is
// visited once.
func (d *TREX) overlandSolidsDispersion() {
	if d.DispCoef <= 0 {
		return
	}
	w := d.CellSize
	for _, c := range d.Cells {
		if c.Depth <= 0 {
			continue
		}
		for dir := 0; dir < 4; dir++ {
			nb := c.Neighbors[dir]
			if nb == nil || nb.Depth <= 0 {
				continue
			}
			dist := w
			if dir%2 == 1 {
				dist = w * sqrt2
			}
			area := 0.5 * (c.Depth + nb.Depth) * w
			for i := range d.Solids {
				flux := d.DispCoef * (nb.Csol[i] - c.Csol[i]) / dist * area
				if flux > 0 {
					c.SolDsp[i].InFlux[dir] += flux
					nb.SolDsp[i].OutFlux[opposite(dir)] += flux
				} else {
					c.SolDsp[i].OutFlux[dir] -= flux
					nb.SolDsp[i].InFlux[opposite(dir)] -= flux
				}
			}
		}
	}
}

// channelSolidsAdvection moves water-column solids along the link/node
// chains and across the outlet boundary.
func (d *TREX) channelSolidsAdvection() {
	d.eachNode(func(n *ChannelNode) {
		for i := range d.Solids {
			if len(n.Down) > 0 && n.FlowOut[SourceS] > 0 {
				q := n.FlowOut[SourceS] * d.AdvScale / float64(len(n.Down))
				for _, down := range n.Down {
					flux := advect.UpwindFlux(q, n.Csol[i], down.Csol[i], 1)
					n.SolAdv[i].OutFlux[SourceS] += flux
					down.SolAdv[i].InFlux[SourceN] += flux
				}
			}
			if n.FlowOut[SourceBoundary] > 0 {
				n.SolAdv[i].OutFlux[SourceBoundary] +=
					n.FlowOut[SourceBoundary] * d.AdvScale * n.Csol[i]
			}
		}
	})
}

// channelSolidsDispersion mixes solids between adjacent wet nodes.
func (d *TREX) channelSolidsDispersion() {
	if d.DispCoef <= 0 {
		return
	}
	d.eachNode(func(n *ChannelNode) {
		if n.Depth <= 0 {
			return
		}
		for _, down := range n.Down {
			if down.Depth <= 0 {
				continue
			}
			dist := 0.5 * (n.Length + down.Length)
			area := 0.5 * (n.flowArea(n.Depth) + down.flowArea(down.Depth))
			for i := range d.Solids {
				flux := d.DispCoef * (down.Csol[i] - n.Csol[i]) / dist * area
				if flux > 0 {
					n.SolDsp[i].InFlux[SourceS] += flux
					down.SolDsp[i].OutFlux[SourceN] += flux
				} else {
					n.SolDsp[i].OutFlux[SourceS] -= flux
					down.SolDsp[i].InFlux[SourceN] -= flux
				}
			}
		}
	})
}

// floodplainSolidsTransfer carries solids with the floodplain water
// exchange computed by the water stage.
func (d *TREX) floodplainSolidsTransfer() {
	d.eachNode(func(n *ChannelNode) {
		c := n.Cell
		for i := range d.Solids {
			if q := n.FlowOut[SourceFloodplain]; q > 0 {
				flux := q * n.Csol[i]
				n.SolAdv[i].OutFlux[SourceFloodplain] += flux
				c.SolAdv[i].InFlux[SourceFloodplain] += flux
			}
			if q := c.FlowOut[SourceFloodplain]; q > 0 {
				flux := q * c.Csol[i]
				c.SolAdv[i].OutFlux[SourceFloodplain] += flux
				n.SolAdv[i].InFlux[SourceFloodplain] += flux
			}
		}
	})
}

// solidsBalance updates water-column solids concentrations and surface
// stack layer volumes from the assembled fluxes.
func (d *TREX) solidsBalance() error {
	for _, c := range d.Cells {
		if err := d.columnSolidsBalance(&c.Column, c, nil); err != nil {
			return err
		}
	}
	var err error
	d.eachNode(func(n *ChannelNode) {
		if err != nil {
			return
		}
		err = d.columnSolidsBalance(&n.Column, n.Cell, n)
	})
	return err
}

func (d *TREX) columnSolidsBalance(w *Column, cell *Cell, node *ChannelNode) error {
	volOld, volNew := d.columnVolumes(w, node)

	var depositedVol, erodedVol float64
	surf := (*Layer)(nil)
	if w.Stack != nil {
		surf = w.Stack.Surface()
	}

	for i, f := range d.Solids {
		net := w.SolAcc[i][ProcLoad].net() +
			w.SolAcc[i][ProcDeposition].net() +
			w.SolAcc[i][ProcErosion].net() +
			w.SolAcc[i][ProcDissolution].net() +
			w.SolAdv[i].netFlux() + w.SolDsp[i].netFlux()
		mass := w.Csol[i]*volOld + net*d.Dt
		if mass < -concTolerance*math.Max(volOld, 1) {
			code := ErrNegativeSolidsOverland
			if node != nil {
				code = ErrNegativeSolidsChannel
			}
			return negativeState(d, code, cell, node, i, mass/math.Max(volNew, 1e-30))
		}
		if mass < 0 {
			mass = 0
		}
		if volNew > 0 {
			w.CsolNew[i] = mass / volNew
		} else {
			w.CsolNew[i] = 0
		}

		if surf != nil {
			// Solid-phase volume exchanged with the bed.
			solidVol := f.SpecificGravity * waterDensity * 1000. // g/m³ of solid
			particleVol := 1. / (solidVol * (1 - surf.Porosity))
			depositedVol += w.SolAcc[i][ProcDeposition].OutFlux * particleVol
			erodedVol += surf.SolAcc[i][ProcErosion].OutFlux * particleVol
		}
	}

	// Subsurface layers are isolated from the water column; their
	// solids concentrations pass through unchanged.
	if w.Stack != nil {
		for k := 0; k < w.Stack.N-1; k++ {
			ly := &w.Stack.Layers[k]
			copy(ly.CsolNew, ly.Csol)
			ly.VolumeNew = ly.Volume
		}
	}

	if surf != nil {
		surf.VolumeNew = surf.Volume + (depositedVol-erodedVol)*d.Dt
		if surf.VolumeNew < 0 {
			surf.VolumeNew = 0
		}
		for i := range d.Solids {
			net := surf.SolAcc[i][ProcDeposition].net() + surf.SolAcc[i][ProcErosion].net()
			mass := surf.Csol[i]*surf.Volume + net*d.Dt
			if mass < 0 {
				mass = 0
			}
			if surf.VolumeNew > 0 {
				surf.CsolNew[i] = mass / surf.VolumeNew
			} else {
				surf.CsolNew[i] = 0
			}
		}
	}
	return nil
}

// columnVolumes returns the water-column volume at the start and end
// of the step.
func (d *TREX) columnVolumes(w *Column, node *ChannelNode) (volOld, volNew float64) {
	if node != nil {
		return node.flowArea(node.Depth) * node.Length,
			node.flowArea(node.DepthNew) * node.Length
	}
	return w.Depth * w.Area, w.DepthNew * w.Area
}

// concTolerance guards negative-concentration checks against float
// noise: mass deficits smaller than this (g per m³ of volume) clip to
// zero instead of aborting.
const concTolerance = 1e-6
