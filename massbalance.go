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
	"io"
	"math"
)

// Transport and reaction processes tracked by the paired accumulators.
// A transfer between two places in the domain increments one process's
// influx on the gaining side and the same process's outflux on the
// losing side; loads and kinetic reactions book only the side whose
// mass changes in the domain.
const (
	ProcAdvection = iota
	ProcDispersion
	ProcDeposition
	ProcErosion
	ProcBurial
	ProcScour
	ProcInfiltration
	ProcPorewater
	ProcFloodplain
	ProcLoad
	ProcBiodegradation
	ProcHydrolysis
	ProcOxidation
	ProcPhotolysis
	ProcRadioactive
	ProcVolatilization
	ProcUserDefined
	ProcYield
	ProcDissolution
	NProcesses
)

// procNames labels the processes in ledger output, in Proc order.
var procNames = []string{
	"advection", "dispersion", "deposition", "erosion", "burial",
	"scour", "infiltration", "porewater", "floodplain", "load",
	"biodegradation", "hydrolysis", "oxidation", "photolysis",
	"radioactive decay", "volatilization", "user-defined", "yield",
	"dissolution",
}

// reactionProcess reports whether p is a kinetic reaction rather than a
// transport process. Reaction gains and losses enter the closure check
// as net reaction terms instead of external exchange.
func reactionProcess(p int) bool {
	return p >= ProcBiodegradation && p <= ProcDissolution
}

// Accum tracks one process at one location for one state variable:
// paired gross rates for the current step and the cumulative mass
// moved since the start of the run.
type Accum struct {
	InFlux  float64 `units:"g/s"`
	OutFlux float64 `units:"g/s"`
	InMass  float64 `units:"kg"`
	OutMass float64 `units:"kg"`
}

// accumulate folds the current gross rates into the cumulative totals
// for a step of dt seconds.
func (a *Accum) accumulate(dt float64) {
	a.InMass += a.InFlux * dt / 1000.
	a.OutMass += a.OutFlux * dt / 1000.
}

// net returns the net rate of change contributed by this process (g/s).
func (a *Accum) net() float64 { return a.InFlux - a.OutFlux }

// makeAccum allocates n process-accumulator rows.
func makeAccum(n int) [][]Accum {
	o := make([][]Accum, n)
	for i := range o {
		o[i] = make([]Accum, NProcesses)
	}
	return o
}

// DirFlux decomposes one transport process into gross in and gross out
// by source so that net direction never collapses the sign information
// needed for mass balance.
type DirFlux struct {
	InFlux  [NSources]float64 `units:"g/s"`
	OutFlux [NSources]float64 `units:"g/s"`
	InMass  [NSources]float64 `units:"kg"`
	OutMass [NSources]float64 `units:"kg"`
}

func (f *DirFlux) reset() {
	for s := 0; s < NSources; s++ {
		f.InFlux[s], f.OutFlux[s] = 0, 0
	}
}

func (f *DirFlux) accumulate(dt float64) {
	for s := 0; s < NSources; s++ {
		f.InMass[s] += f.InFlux[s] * dt / 1000.
		f.OutMass[s] += f.OutFlux[s] * dt / 1000.
	}
}

// netFlux returns total gross in minus total gross out (g/s).
func (f *DirFlux) netFlux() float64 {
	var in, out float64
	for s := 0; s < NSources; s++ {
		in += f.InFlux[s]
		out += f.OutFlux[s]
	}
	return in - out
}

// boundaryIn and boundaryOut return the cumulative mass exchanged with
// the domain boundary (kg).
func (f *DirFlux) boundaryIn() float64  { return f.InMass[SourceBoundary] + f.InMass[SourceLoad] }
func (f *DirFlux) boundaryOut() float64 { return f.OutMass[SourceBoundary] }

// MassLedger captures initial masses at initialization, accumulates
// external and reaction exchange, and checks closure at shutdown.
type MassLedger struct {
	d *TREX

	// Initial and final stored mass by fraction/species (kg),
	// water column plus all stack layers.
	SolInitial  []float64
	ChemInitial []float64
	SolFinal    []float64
	ChemFinal   []float64

	// WaterInitial and WaterFinal are domain water storage (m³).
	WaterInitial float64
	WaterFinal   float64
}

func newMassLedger(d *TREX) *MassLedger {
	l := &MassLedger{
		d:           d,
		SolInitial:  make([]float64, d.nsol),
		ChemInitial: make([]float64, d.nchem),
		SolFinal:    make([]float64, d.nsol),
		ChemFinal:   make([]float64, d.nchem),
	}
	l.WaterInitial = l.waterStorage()
	l.storedMass(l.SolInitial, l.ChemInitial)
	return l
}

// waterStorage returns total free-surface water in the domain (m³).
func (l *MassLedger) waterStorage() float64 {
	var v float64
	for _, c := range l.d.Cells {
		v += c.Depth * c.Area
		v += c.SWE * c.Area
	}
	l.d.eachNode(func(n *ChannelNode) {
		v += n.flowArea(n.Depth) * n.Length
	})
	return v
}

// storedMass computes current stored mass per fraction and species,
// summing the water column and every stack layer (kg).
func (l *MassLedger) storedMass(sol, chem []float64) {
	for i := range sol {
		sol[i] = 0
	}
	for i := range chem {
		chem[i] = 0
	}
	add := func(w *Column, vol float64) {
		for i := range sol {
			sol[i] += w.Csol[i] * vol / 1000.
		}
		for i := range chem {
			chem[i] += w.Cchem[i] * vol / 1000.
		}
	}
	addStack := func(st *Stack) {
		if st == nil {
			return
		}
		for k := 0; k < st.N; k++ {
			ly := &st.Layers[k]
			for i := range sol {
				sol[i] += ly.Csol[i] * ly.Volume / 1000.
			}
			for i := range chem {
				chem[i] += ly.Cchem[i] * ly.Volume / 1000.
			}
		}
	}
	for _, c := range l.d.Cells {
		add(&c.Column, c.Depth*c.Area)
		addStack(c.Stack)
	}
	l.d.eachNode(func(n *ChannelNode) {
		add(&n.Column, n.flowArea(n.Depth)*n.Length)
		addStack(n.Stack)
	})
}

// Close recomputes final storage. It is called once when the
// integration loop finishes.
func (l *MassLedger) Close() {
	l.WaterFinal = l.waterStorage()
	l.storedMass(l.SolFinal, l.ChemFinal)
}

// BalanceTerm is one species' or fraction's closure decomposition.
type BalanceTerm struct {
	Name                      string
	Initial, Final            float64 // stored mass (kg)
	ExternalIn, ExternalOut   float64 // boundary exchange (kg)
	ReactionIn, ReactionOut   float64 // kinetic gains and losses (kg)
	Residual                  float64 // closure error (kg)
	RelativeResidual          float64 // |residual| / (initial + gross input)
}

// externalExchange sums boundary mass exchange for one accumulator row
// across the domain. Transport between interior locations cancels in
// the sum; only load, boundary, infiltration-out, and volatilization
// survive as external terms.
func (l *MassLedger) externalExchange(chem bool, idx int) (in, out, rin, rout float64) {
	scan := func(w *Column) {
		var acc []Accum
		var adv, dsp *DirFlux
		if chem {
			acc = w.ChemAcc[idx]
			adv, dsp = &w.ChemAdv[idx], &w.ChemDsp[idx]
		} else {
			acc = w.SolAcc[idx]
			adv, dsp = &w.SolAdv[idx], &w.SolDsp[idx]
		}
		in += adv.boundaryIn() + dsp.InMass[SourceBoundary]
		out += adv.boundaryOut() + dsp.OutMass[SourceBoundary]
		in += acc[ProcLoad].InMass
		// Infiltration into the surface layer stays in the domain;
		// only mass leaving through the bottom of the stack is
		// external (see scanStackReactions).
		out += acc[ProcVolatilization].OutMass
		for p := ProcBiodegradation; p <= ProcDissolution; p++ {
			if p == ProcVolatilization {
				continue // external, counted above
			}
			rin += acc[p].InMass
			rout += acc[p].OutMass
		}
	}
	for _, c := range l.d.Cells {
		scan(&c.Column)
		scanStackReactions(c.Stack, chem, idx, &rin, &rout, &out)
	}
	l.d.eachNode(func(n *ChannelNode) {
		scan(&n.Column)
		scanStackReactions(n.Stack, chem, idx, &rin, &rout, &out)
	})
	return
}

// scanStackReactions folds stack-layer kinetic and infiltration terms
// into the reaction and external totals.
func scanStackReactions(st *Stack, chem bool, idx int, rin, rout, out *float64) {
	if st == nil {
		return
	}
	for k := 0; k < st.N; k++ {
		ly := &st.Layers[k]
		var acc []Accum
		if chem {
			acc = ly.ChemAcc[idx]
		} else {
			acc = ly.SolAcc[idx]
		}
		for p := ProcBiodegradation; p <= ProcDissolution; p++ {
			if p == ProcVolatilization {
				continue
			}
			*rin += acc[p].InMass
			*rout += acc[p].OutMass
		}
		*out += acc[ProcVolatilization].OutMass
		if k == 0 {
			// Mass infiltrating through the bottom of the stack
			// leaves the domain.
			*out += acc[ProcInfiltration].OutMass
		}
	}
}

// Balance computes the closure decomposition for every fraction and
// species. Call after Close.
func (l *MassLedger) Balance() []BalanceTerm {
	var terms []BalanceTerm
	for i, s := range l.d.Solids {
		in, out, rin, rout := l.externalExchange(false, i)
		terms = append(terms, balanceTerm(s.Name, l.SolInitial[i], l.SolFinal[i], in, out, rin, rout))
	}
	for i, ch := range l.d.Chems {
		in, out, rin, rout := l.externalExchange(true, i)
		terms = append(terms, balanceTerm(ch.Name, l.ChemInitial[i], l.ChemFinal[i], in, out, rin, rout))
	}
	return terms
}

func balanceTerm(name string, initial, final, in, out, rin, rout float64) BalanceTerm {
	t := BalanceTerm{
		Name: name, Initial: initial, Final: final,
		ExternalIn: in, ExternalOut: out,
		ReactionIn: rin, ReactionOut: rout,
	}
	t.Residual = final - initial - (in - out) - (rin - rout)
	denom := initial + in
	if denom > 0 {
		t.RelativeResidual = math.Abs(t.Residual) / denom
	}
	return t
}

// balanceTolerance is the relative residual above which a closure
// warning is reported. Residuals are never fatal.
const balanceTolerance = 1e-3

// processTotals sums cumulative in and out mass by process across the
// whole domain for one fraction or species (kg).
func (l *MassLedger) processTotals(chem bool, idx int) (in, out [NProcesses]float64) {
	add := func(acc []Accum) {
		for p := range acc {
			in[p] += acc[p].InMass
			out[p] += acc[p].OutMass
		}
	}
	scan := func(w *Column) {
		if chem {
			add(w.ChemAcc[idx])
		} else {
			add(w.SolAcc[idx])
		}
		if w.Stack != nil {
			for k := 0; k < w.Stack.N; k++ {
				ly := &w.Stack.Layers[k]
				if chem {
					add(ly.ChemAcc[idx])
				} else {
					add(ly.SolAcc[idx])
				}
			}
		}
	}
	for _, c := range l.d.Cells {
		scan(&c.Column)
	}
	l.d.eachNode(func(n *ChannelNode) { scan(&n.Column) })
	return
}

// WriteLedger formats the full mass-balance ledger with a per-process
// breakdown, warning on any term whose residual exceeds the tolerance.
func (l *MassLedger) WriteLedger(w io.Writer) error {
	fmt.Fprintf(w, "TREX mass balance ledger\n\n")
	fmt.Fprintf(w, "water storage: initial = %.6e m³  final = %.6e m³\n\n",
		l.WaterInitial, l.WaterFinal)
	terms := l.Balance()
	for ti, t := range terms {
		fmt.Fprintf(w, "%s:\n", t.Name)
		fmt.Fprintf(w, "  initial = %.6e kg  final = %.6e kg\n", t.Initial, t.Final)
		fmt.Fprintf(w, "  external in = %.6e kg  external out = %.6e kg\n", t.ExternalIn, t.ExternalOut)
		fmt.Fprintf(w, "  reaction in = %.6e kg  reaction out = %.6e kg\n", t.ReactionIn, t.ReactionOut)
		chem := ti >= len(l.d.Solids)
		idx := ti
		if chem {
			idx = ti - len(l.d.Solids)
		}
		in, out := l.processTotals(chem, idx)
		for p := 0; p < NProcesses; p++ {
			if in[p] == 0 && out[p] == 0 {
				continue
			}
			tag := ""
			if reactionProcess(p) {
				tag = " (reaction)"
			}
			fmt.Fprintf(w, "    %-18s in = %.6e kg  out = %.6e kg%s\n",
				procNames[p], in[p], out[p], tag)
		}
		fmt.Fprintf(w, "  residual = %.6e kg (%.4f%%)\n", t.Residual, t.RelativeResidual*100)
		if t.RelativeResidual > balanceTolerance {
			fmt.Fprintf(w, "  WARNING: residual exceeds %.2f%% tolerance\n", balanceTolerance*100)
		}
	}
	return nil
}
