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
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/atmos/advect"
)

// ChemSpecies is one chemical state variable and its reaction
// parameters. Each reaction class is toggled by its own option flag;
// a class runs for the domain when any species opts in.
type ChemSpecies struct {
	Name  string
	Group int // reporting group index

	// Equilibrium partitioning.
	Partition bool
	Kp        float64 `desc:"Solids partition coefficient" units:"m³/g"`
	Koc       float64 `desc:"Organic-carbon partition coefficient" units:"m³/g"`
	Kb        float64 `desc:"DOC binding coefficient" units:"m³/g"`
	BindEff   float64 `desc:"DOC binding effectiveness" units:"fraction"`
	NuX       float64 `desc:"Particle-interaction parameter" units:"g/m³"`

	// Biodegradation: first order, or second order with the
	// bacterial count when Bio2nd is set.
	Biodegrade         bool
	Bio2nd             bool
	KBioWater, KBioBed float64 `units:"1/s"`

	// Hydrolysis: acid/neutral/base pH-weighted, temperature
	// corrected.
	Hydrolyze              bool
	KAcid, KNeutral, KBase float64 `units:"1/s (neutral), m³/mol/s (acid, base)"`
	HydTheta               float64 `desc:"Temperature correction base" units:"-"`

	// Oxidation: second order with the oxidant concentration.
	Oxidize bool
	KOxi    float64 `units:"m³/g/s"`

	// Photolysis: depth-integrated with light extinction and solar
	// radiation.
	Photolyze bool
	KPht      float64 `desc:"Surface photolysis rate at the reference radiation" units:"1/s"`
	RefRad    float64 `desc:"Reference radiation for KPht" units:"W/m²"`

	// Radioactive decay: first order on all phases.
	Decay bool
	KRad  float64 `units:"1/s"`

	// Volatilization: two-film with Henry's law.
	Volatilize bool
	Henry      float64 `desc:"Dimensionless Henry's law constant" units:"-"`
	MolWeight  float64 `units:"g/mol"`

	// Dissolution of a pure-phase solids fraction into this species.
	Dissolve bool
	KDsl     float64 `desc:"Dissolution mass-transfer rate" units:"m/s"`
	CSat     float64 `desc:"Saturation concentration" units:"g/m³"`
	DslFrom  int     `desc:"Solids fraction treated as the pure phase" units:"index"`

	// User-defined reaction: an arbitrary rate expression evaluated
	// with the column state. A positive rate is a loss (g/m³/s).
	UserReaction bool
	UserExpr     string

	userExpr *govaluate.EvaluableExpression
}

// Yield transforms mass of one species into another at a
// stoichiometric yield when the source species is consumed by the
// given reaction process.
type Yield struct {
	From, To int     // species indices
	Process  int     // the consuming reaction process (Proc constant)
	Frac     float64 // stoichiometric yield (g product per g consumed)
}

// compileUserExpressions prepares the govaluate kernels. Called once
// during initialization.
func (d *TREX) compileUserExpressions() error {
	for _, ch := range d.Chems {
		if !ch.UserReaction {
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(ch.UserExpr)
		if err != nil {
			return fmt.Errorf("trex: user reaction for %s: %v", ch.Name, err)
		}
		ch.userExpr = expr
	}
	return nil
}

// anyChem reports whether any species has opted into a reaction class.
func (d *TREX) anyChem(f func(*ChemSpecies) bool) bool {
	for _, ch := range d.Chems {
		if f(ch) {
			return true
		}
	}
	return false
}

// chemicalTransport computes all chemical derivative terms for the
// step: kinetics (partitioning first, then each opted-in reaction
// class), infiltration transfer, deposition and erosion coupled
// through the solids fluxes, porewater release, advection, dispersion,
// and floodplain transfer.
func (d *TREX) chemicalTransport() error {
	d.chemicalLoads()
	if d.anyChem(func(c *ChemSpecies) bool { return c.Partition }) {
		d.partitionAll()
	}
	if err := d.chemicalKinetics(); err != nil {
		return err
	}
	if d.Infiltration {
		d.chemicalInfiltration()
	}
	d.chemicalDepositionErosion()
	d.porewaterRelease()
	d.overlandChemAdvection()
	d.overlandChemDispersion()
	if d.Channels {
		d.channelChemAdvection()
		d.channelChemDispersion()
		d.floodplainChemTransfer()
	}
	d.chemicalYields()
	return nil
}

// partitionAll computes the equilibrium phase distribution for every
// species in every water column and stack layer.
func (d *TREX) partitionAll() {
	for _, c := range d.Cells {
		d.partitionColumn(&c.Column)
	}
	d.eachNode(func(n *ChannelNode) { d.partitionColumn(&n.Column) })
}

func (d *TREX) partitionColumn(w *Column) {
	d.partitionPhase(w.Fd, w.Fb, w.Fp, w.Csol, w.Fpoc, w.DOC)
	if w.Stack == nil {
		return
	}
	for k := 0; k < w.Stack.N; k++ {
		ly := &w.Stack.Layers[k]
		d.partitionPhase(ly.Fd, ly.Fb, ly.Fp, ly.Csol, ly.Fpoc, w.DOC)
	}
}

// partitionPhase fills the dissolved, bound, and per-solid particulate
// fractions for one location:
//
//	f_d = 1 / (1 + K_b·C_DOC·f_DOC + Σ_s K_p,s·C_s)
//
// with K_p optionally derived from K_oc·f_oc and attenuated by the
// particle-interaction parameter ν_x.
func (d *TREX) partitionPhase(fd, fb []float64, fp [][]float64, csol, fpoc []float64, doc float64) {
	for i, ch := range d.Chems {
		if !ch.Partition {
			fd[i], fb[i] = 1, 0
			for s := range fp[i] {
				fp[i][s] = 0
			}
			continue
		}
		bound := ch.Kb * doc * ch.BindEff
		denom := 1 + bound
		for s := range d.Solids {
			kp := ch.partitionCoeff(s, fpoc[s], csol[s])
			denom += kp * csol[s]
		}
		fd[i] = 1 / denom
		fb[i] = bound * fd[i]
		for s := range d.Solids {
			kp := ch.partitionCoeff(s, fpoc[s], csol[s])
			fp[i][s] = kp * csol[s] * fd[i]
		}
	}
}

// partitionCoeff returns the effective solids partition coefficient
// for fraction s.
func (ch *ChemSpecies) partitionCoeff(s int, fpoc, csol float64) float64 {
	kp := ch.Kp
	if ch.Koc > 0 {
		kp = ch.Koc * fpoc
	}
	if ch.NuX > 0 && csol > 0 {
		kp = kp / (1 + csol*kp/ch.NuX)
	}
	return kp
}

// chemicalKinetics runs every opted-in reaction class over the domain.
func (d *TREX) chemicalKinetics() error {
	for _, c := range d.Cells {
		vol, _ := d.columnVolumes(&c.Column, nil)
		if err := d.columnKinetics(&c.Column, vol, c.SolarRad, c.WindSpeed); err != nil {
			return err
		}
	}
	var err error
	d.eachNode(func(n *ChannelNode) {
		if err != nil {
			return
		}
		vol, _ := d.columnVolumes(&n.Column, n)
		err = d.columnKinetics(&n.Column, vol, n.Cell.SolarRad, n.Cell.WindSpeed)
	})
	return err
}

// Two-film volatilization correlations, WASP-style: the gas film
// scales with wind speed and (18/MW)^0.25, the liquid film with a
// quadratic wind-speed fit and (32/MW)^0.25.
const (
	gasFilmCoeff  = 168.0   // m/day per (m/s wind)
	tempThetaVolt = 1.024   // temperature correction base
	secPerDay     = 86400.0
)

func (d *TREX) columnKinetics(w *Column, volWater, solar, wind float64) error {
	for i, ch := range d.Chems {
		acc := w.ChemAcc[i]
		c := w.Cchem[i]

		if ch.Biodegrade && volWater > 0 {
			k := ch.KBioWater
			if ch.Bio2nd {
				k *= w.Bacteria
			}
			acc[ProcBiodegradation].OutFlux += k * (w.Fd[i] + w.Fb[i]) * c * volWater
		}
		if ch.Hydrolyze && volWater > 0 {
			k := hydrolysisRate(ch, w.PH, w.TempWater)
			acc[ProcHydrolysis].OutFlux += k * w.Fd[i] * c * volWater
		}
		if ch.Oxidize && volWater > 0 {
			acc[ProcOxidation].OutFlux += ch.KOxi * w.Oxidant * w.Fd[i] * c * volWater
		}
		if ch.Photolyze && volWater > 0 && solar > 0 {
			k := ch.photolysisRate(solar, w.Extinction, w.Depth)
			acc[ProcPhotolysis].OutFlux += k * c * volWater
		}
		if ch.Decay && volWater > 0 {
			acc[ProcRadioactive].OutFlux += ch.KRad * c * volWater
		}
		if ch.Volatilize && w.Depth > 0 {
			kv := ch.volatilizationVelocity(wind, w.TempWater)
			acc[ProcVolatilization].OutFlux += kv * w.Fd[i] * c * w.Area
		}
		if ch.Dissolve && volWater > 0 {
			s := ch.DslFrom
			if s >= 0 && s < d.nsol && w.Csol[s] > 0 {
				rate := ch.KDsl * (ch.CSat - w.Fd[i]*c) * w.Area
				if rate > 0 {
					avail := w.Csol[s] * volWater / d.Dt
					if rate > avail {
						rate = avail
					}
					w.SolAcc[s][ProcDissolution].OutFlux += rate
					acc[ProcDissolution].InFlux += rate
				}
			}
		}
		if ch.UserReaction && volWater > 0 {
			rate, err := ch.userRate(w, i)
			if err != nil {
				return err
			}
			if rate >= 0 {
				acc[ProcUserDefined].OutFlux += rate * volWater
			} else {
				acc[ProcUserDefined].InFlux += -rate * volWater
			}
		}

		// Bed kinetics on every stack layer.
		if w.Stack != nil {
			for k := 0; k < w.Stack.N; k++ {
				ly := &w.Stack.Layers[k]
				lacc := ly.ChemAcc[i]
				lc := ly.Cchem[i]
				if lc <= 0 {
					continue
				}
				if ch.Biodegrade {
					kbio := ch.KBioBed
					if ch.Bio2nd {
						kbio *= w.Bacteria
					}
					lacc[ProcBiodegradation].OutFlux += kbio * (ly.Fd[i] + ly.Fb[i]) * lc * ly.Volume
				}
				if ch.Hydrolyze {
					k := hydrolysisRate(ch, w.PH, w.TempBed)
					lacc[ProcHydrolysis].OutFlux += k * ly.Fd[i] * lc * ly.Volume
				}
				if ch.Decay {
					lacc[ProcRadioactive].OutFlux += ch.KRad * lc * ly.Volume
				}
			}
		}
	}
	return nil
}

// hydrolysisRate combines the acid, neutral, and base pathways at the
// ambient pH with an Arrhenius-style temperature correction.
func hydrolysisRate(ch *ChemSpecies, ph, temp float64) float64 {
	hplus := math.Pow(10, -ph)
	ohminus := math.Pow(10, ph-14)
	k := ch.KAcid*hplus + ch.KNeutral + ch.KBase*ohminus
	if ch.HydTheta > 0 {
		k *= math.Pow(ch.HydTheta, temp-20)
	}
	return k
}

// photolysisRate integrates the surface photolysis rate over the water
// depth with Beer-law light extinction, scaled to the incident solar
// radiation.
func (ch *ChemSpecies) photolysisRate(solar, extinction, depth float64) float64 {
	ref := ch.RefRad
	if ref <= 0 {
		ref = solarConstant
	}
	k := ch.KPht * solar / ref
	if extinction > 0 && depth > 0 {
		k *= (1 - math.Exp(-extinction*depth)) / (extinction * depth)
	}
	return k
}

// volatilizationVelocity is the two-film conductance (m/s).
func (ch *ChemSpecies) volatilizationVelocity(wind, temp float64) float64 {
	if ch.Henry <= 0 || ch.MolWeight <= 0 {
		return 0
	}
	kg := gasFilmCoeff * math.Max(wind, 0.1) * math.Pow(18/ch.MolWeight, 0.25) / secPerDay
	kl := (0.728*math.Sqrt(math.Max(wind, 0.1)) - 0.317*wind + 0.0372*wind*wind) /
		secPerDay * math.Pow(32/ch.MolWeight, 0.25)
	if kl <= 0 {
		kl = 1e-7
	}
	kv := 1 / (1/kl + 1/(kg*ch.Henry))
	return kv * math.Pow(tempThetaVolt, temp-20)
}

// userRate evaluates the user-defined reaction kernel for species i in
// column w. The expression sees the column state and the user
// property; the result is a volumetric rate in g/m³/s.
func (ch *ChemSpecies) userRate(w *Column, i int) (float64, error) {
	params := map[string]interface{}{
		"C":        w.Cchem[i],
		"fd":       w.Fd[i],
		"fb":       w.Fb[i],
		"doc":      w.DOC,
		"ph":       w.PH,
		"temp":     w.TempWater,
		"hardness": w.Hardness,
		"oxidant":  w.Oxidant,
		"bacteria": w.Bacteria,
		"property": w.UserProp,
		"depth":    w.Depth,
	}
	v, err := ch.userExpr.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("trex: user reaction for %s: %v", ch.Name, err)
	}
	rate, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("trex: user reaction for %s: non-numeric result %v", ch.Name, v)
	}
	return rate, nil
}

// chemicalYields routes the mass consumed by each configured reaction
// process into the product species at the stoichiometric yield.
func (d *TREX) chemicalYields() {
	if len(d.Yields) == 0 {
		return
	}
	apply := func(w *Column) {
		for _, y := range d.Yields {
			// Consumption is already counted by the driving process;
			// the yield only adds the product-side gain.
			consumed := w.ChemAcc[y.From][y.Process].OutFlux
			if consumed > 0 {
				w.ChemAcc[y.To][ProcYield].InFlux += y.Frac * consumed
			}
		}
	}
	for _, c := range d.Cells {
		apply(&c.Column)
	}
	d.eachNode(func(n *ChannelNode) { apply(&n.Column) })
}

// chemicalInfiltration transfers mobile-phase chemical mass from the
// water column into the topmost stack layer with the infiltrating (or
// transmission-loss) water.
func (d *TREX) chemicalInfiltration() {
	for _, c := range d.Cells {
		if c.InfRate <= 0 || c.Stack == nil {
			continue
		}
		surf := c.Stack.Surface()
		q := c.InfRate * c.Area
		for i := range d.Chems {
			flux := q * (c.Fd[i] + c.Fb[i]) * c.Cchem[i]
			c.ChemAcc[i][ProcInfiltration].OutFlux += flux
			surf.ChemAcc[i][ProcInfiltration].InFlux += flux
		}
	}
	if d.TransLoss {
		d.eachNode(func(n *ChannelNode) {
			if n.Stack == nil {
				return
			}
			q := n.FlowOut[SourceLoad] // transmission loss volumetric rate
			if q <= 0 {
				return
			}
			surf := n.Stack.Surface()
			for i := range d.Chems {
				flux := q * (n.Fd[i] + n.Fb[i]) * n.Cchem[i]
				n.ChemAcc[i][ProcInfiltration].OutFlux += flux
				surf.ChemAcc[i][ProcInfiltration].InFlux += flux
			}
		})
	}
}

// chemicalDepositionErosion couples chemical transfer between water
// column and bed to the solids deposition and erosion fluxes: sorbed
// mass moves with its carrier particles.
func (d *TREX) chemicalDepositionErosion() {
	apply := func(w *Column) {
		if w.Stack == nil {
			return
		}
		surf := w.Stack.Surface()
		for i := range d.Chems {
			var dep float64
			for s := range d.Solids {
				if w.Csol[s] > 0 {
					dep += w.SolAcc[s][ProcDeposition].OutFlux *
						w.Fp[i][s] * w.Cchem[i] / w.Csol[s]
				}
			}
			if dep > 0 {
				w.ChemAcc[i][ProcDeposition].OutFlux += dep
				surf.ChemAcc[i][ProcDeposition].InFlux += dep
			}
			var ers float64
			for s := range d.Solids {
				if surf.Csol[s] > 0 {
					ers += surf.SolAcc[s][ProcErosion].OutFlux *
						surf.Fp[i][s] * surf.Cchem[i] / surf.Csol[s]
				}
			}
			if ers > 0 {
				surf.ChemAcc[i][ProcErosion].OutFlux += ers
				w.ChemAcc[i][ProcErosion].InFlux += ers
			}
		}
	}
	for _, c := range d.Cells {
		apply(&c.Column)
	}
	d.eachNode(func(n *ChannelNode) { apply(&n.Column) })
}

// porewaterRelease injects the dissolved and bound chemical held in
// the porewater of eroded bed volume into the water column.
func (d *TREX) porewaterRelease() {
	apply := func(w *Column) {
		if w.Stack == nil {
			return
		}
		surf := w.Stack.Surface()
		// Eroded bulk volume rate (m³/s) from the solids fluxes.
		var erodedVol float64
		for s, f := range d.Solids {
			solidVol := f.SpecificGravity * waterDensity * 1000.
			if surf.Porosity < 1 {
				erodedVol += surf.SolAcc[s][ProcErosion].OutFlux /
					(solidVol * (1 - surf.Porosity))
			}
		}
		if erodedVol <= 0 {
			return
		}
		pore := erodedVol * surf.Porosity
		for i := range d.Chems {
			flux := pore * (surf.Fd[i] + surf.Fb[i]) * surf.Cchem[i]
			if flux <= 0 {
				continue
			}
			surf.ChemAcc[i][ProcPorewater].OutFlux += flux
			w.ChemAcc[i][ProcPorewater].InFlux += flux
		}
	}
	for _, c := range d.Cells {
		apply(&c.Column)
	}
	d.eachNode(func(n *ChannelNode) { apply(&n.Column) })
}

// overlandChemAdvection moves water-column chemicals with the overland
// flows, tracking gross fluxes by direction.
func (d *TREX) overlandChemAdvection() {
	for _, c := range d.Cells {
		for i := range d.Chems {
			for dir, nb := range c.Neighbors {
				if nb == nil || c.FlowOut[dir] <= 0 {
					continue
				}
				flux := advect.UpwindFlux(c.FlowOut[dir]*d.AdvScale, c.Cchem[i], nb.Cchem[i], 1)
				c.ChemAdv[i].OutFlux[dir] += flux
				nb.ChemAdv[i].InFlux[opposite(dir)] += flux
			}
			if c.FlowOut[SourceBoundary] > 0 {
				c.ChemAdv[i].OutFlux[SourceBoundary] +=
					c.FlowOut[SourceBoundary] * d.AdvScale * c.Cchem[i]
			}
		}
	}
}

func (d *TREX) overlandChemDispersion() {
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
			for i := range d.Chems {
				flux := d.DispCoef * (nb.Cchem[i] - c.Cchem[i]) / dist * area
				if flux > 0 {
					c.ChemDsp[i].InFlux[dir] += flux
					nb.ChemDsp[i].OutFlux[opposite(dir)] += flux
				} else {
					c.ChemDsp[i].OutFlux[dir] -= flux
					nb.ChemDsp[i].InFlux[opposite(dir)] -= flux
				}
			}
		}
	}
}

func (d *TREX) channelChemAdvection() {
	d.eachNode(func(n *ChannelNode) {
		for i := range d.Chems {
			if len(n.Down) > 0 && n.FlowOut[SourceS] > 0 {
				q := n.FlowOut[SourceS] * d.AdvScale / float64(len(n.Down))
				for _, down := range n.Down {
					flux := advect.UpwindFlux(q, n.Cchem[i], down.Cchem[i], 1)
					n.ChemAdv[i].OutFlux[SourceS] += flux
					down.ChemAdv[i].InFlux[SourceN] += flux
				}
			}
			if n.FlowOut[SourceBoundary] > 0 {
				n.ChemAdv[i].OutFlux[SourceBoundary] +=
					n.FlowOut[SourceBoundary] * d.AdvScale * n.Cchem[i]
			}
		}
	})
}

func (d *TREX) channelChemDispersion() {
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
			for i := range d.Chems {
				flux := d.DispCoef * (down.Cchem[i] - n.Cchem[i]) / dist * area
				if flux > 0 {
					n.ChemDsp[i].InFlux[SourceS] += flux
					down.ChemDsp[i].OutFlux[SourceN] += flux
				} else {
					n.ChemDsp[i].OutFlux[SourceS] -= flux
					down.ChemDsp[i].InFlux[SourceN] -= flux
				}
			}
		}
		// Dispersive exchange with the outlet boundary concentration.
		if n.outlet != nil && n.outlet.BC != nil {
			area := n.flowArea(n.Depth)
			for i := range d.Chems {
				if i >= len(n.outlet.BC) || n.outlet.BC[i] == nil {
					continue
				}
				cbc := n.outlet.BC[i].Value(d.SimTime)
				flux := d.DispCoef * (cbc - n.Cchem[i]) / n.Length * area
				if flux > 0 {
					n.ChemDsp[i].InFlux[SourceBoundary] += flux
				} else {
					n.ChemDsp[i].OutFlux[SourceBoundary] -= flux
				}
			}
		}
	})
}

func (d *TREX) floodplainChemTransfer() {
	d.eachNode(func(n *ChannelNode) {
		c := n.Cell
		for i := range d.Chems {
			if q := n.FlowOut[SourceFloodplain]; q > 0 {
				flux := q * n.Cchem[i]
				n.ChemAdv[i].OutFlux[SourceFloodplain] += flux
				c.ChemAdv[i].InFlux[SourceFloodplain] += flux
			}
			if q := c.FlowOut[SourceFloodplain]; q > 0 {
				flux := q * c.Cchem[i]
				c.ChemAdv[i].OutFlux[SourceFloodplain] += flux
				n.ChemAdv[i].InFlux[SourceFloodplain] += flux
			}
		}
	})
}

// chemicalLoads applies the point and distributed chemical loads.
func (d *TREX) chemicalLoads() {
	for _, ld := range d.Loads {
		if !ld.Chem {
			continue
		}
		flux := ld.Func.Value(d.SimTime) * 1000. / 86400.
		if w := d.loadTarget(ld); w != nil {
			w.ChemAcc[ld.Index][ProcLoad].InFlux += flux
		}
	}
}

// chemicalBalance updates water-column and stack-layer chemical
// concentrations from the assembled fluxes.
func (d *TREX) chemicalBalance() error {
	for _, c := range d.Cells {
		if err := d.columnChemBalance(&c.Column, c, nil); err != nil {
			return err
		}
	}
	var err error
	d.eachNode(func(n *ChannelNode) {
		if err != nil {
			return
		}
		err = d.columnChemBalance(&n.Column, n.Cell, n)
	})
	return err
}

func (d *TREX) columnChemBalance(w *Column, cell *Cell, node *ChannelNode) error {
	volOld, volNew := d.columnVolumes(w, node)

	for i := range d.Chems {
		acc := w.ChemAcc[i]
		net := acc[ProcLoad].net() +
			acc[ProcDeposition].net() + acc[ProcErosion].net() +
			acc[ProcInfiltration].net() + acc[ProcPorewater].net() +
			acc[ProcDissolution].net() + acc[ProcYield].net() +
			w.ChemAdv[i].netFlux() + w.ChemDsp[i].netFlux()
		for p := ProcBiodegradation; p <= ProcUserDefined; p++ {
			net += acc[p].net()
		}
		mass := w.Cchem[i]*volOld + net*d.Dt
		if mass < -concTolerance*math.Max(volOld, 1) {
			code := ErrNegativeChemOverland
			if node != nil {
				code = ErrNegativeChemChannel
			}
			return negativeState(d, code, cell, node, i, mass/math.Max(volNew, 1e-30))
		}
		if mass < 0 {
			mass = 0
		}
		if volNew > 0 {
			w.CchemNew[i] = mass / volNew
		} else {
			w.CchemNew[i] = 0
		}
	}

	// Dissolution is booked after the solids balance has run, so the
	// dissolved mass is taken out of the new solids buffer here.
	for s := range d.Solids {
		if loss := w.SolAcc[s][ProcDissolution].OutFlux; loss > 0 && volNew > 0 {
			w.CsolNew[s] = math.Max(0, w.CsolNew[s]-loss*d.Dt/volNew)
		}
	}

	if w.Stack != nil {
		for k := 0; k < w.Stack.N; k++ {
			ly := &w.Stack.Layers[k]
			vNew := ly.Volume
			if k == w.Stack.N-1 {
				vNew = ly.VolumeNew // set by the solids balance
			}
			for i := range d.Chems {
				acc := ly.ChemAcc[i]
				net := acc[ProcDeposition].net() + acc[ProcErosion].net() +
					acc[ProcInfiltration].net() + acc[ProcPorewater].net()
				for p := ProcBiodegradation; p <= ProcDissolution; p++ {
					net += acc[p].net()
				}
				mass := ly.Cchem[i]*ly.Volume + net*d.Dt
				if mass < 0 {
					mass = 0
				}
				if vNew > 0 {
					ly.CchemNew[i] = mass / vNew
				} else {
					ly.CchemNew[i] = 0
				}
			}
		}
	}
	return nil
}
