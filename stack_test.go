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
	"bytes"
	"math"
	"strings"
	"testing"
)

// stackDomain builds a single-cell domain with a two-layer soil stack
// holding one solids fraction and one chemical.
func stackDomain(maxstack int, collapse bool) *TREX {
	layers := []Layer{
		{Thickness: 0.2, Area: 1e4, Porosity: 0.4, Csol: []float64{2e5}, Cchem: []float64{50}},
		{Thickness: 0.1, Area: 1e4, Porosity: 0.5, Csol: []float64{1e5}, Cchem: []float64{100}},
	}
	cell := &Cell{
		Row: 1, Col: 1, Mask: MaskOverland,
		SkyView: 1,
		LandUse: &LandUse{ManningN: 0.05},
		Soil:    &SoilType{ErosionOpt: ErosionExcessShear},
	}
	cell.Stack = NewStack(-0.3, maxstack, layers)
	d := &TREX{
		NRows: 1, NCols: 1,
		CellSize: 100, Nodata: -9999,
		TStart: 0, TEnd: 1,
		SimulateSol:   true,
		SimulateChem:  true,
		SolidGroups:   []string{"solids"},
		ChemGroups:    []string{"chems"},
		Solids:        []*SolidFraction{{Name: "silt", SpecificGravity: 2.65}},
		Chems:         []*ChemSpecies{{Name: "chem"}},
		MaxStack:      maxstack,
		CollapseStack: collapse,
		MinVolFrac:    0.5,
		MaxVolFrac:    1.5,
		Cells:         []*Cell{cell},
	}
	d.DtSchedule([]float64{10}, []float64{d.TEnd})
	return d
}

// stackMasses sums stored mass over all layers (g).
func stackMasses(st *Stack) (sol, chem float64) {
	for k := 0; k < st.N; k++ {
		sol += st.Layers[k].Csol[0] * st.Layers[k].Volume
		chem += st.Layers[k].Cchem[0] * st.Layers[k].Volume
	}
	return
}

// An over-full surface layer is split: the stack grows by one, mass is
// conserved, burial accounting is symmetric, and the new surface sits
// between its volume triggers.
func TestPush(t *testing.T) {
	d := stackDomain(3, false)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	st := d.Cells[0].Stack
	solBefore, chemBefore := stackMasses(st)

	// Grow the surface layer past its push trigger.
	surf := st.Surface()
	extra := surf.MaxVolume*1.01 - surf.Volume
	addedSolMass := surf.Csol[0] * extra // concentration is uniform in the layer
	addedChemMass := surf.Cchem[0] * extra
	surf.Volume = surf.MaxVolume * 1.01
	surf.VolumeNew = surf.Volume

	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 3 {
		t.Fatalf("nstack = %d after push, want 3", st.N)
	}

	solAfter, chemAfter := stackMasses(st)
	if rel := math.Abs(solAfter-(solBefore+addedSolMass)) / solAfter; rel > 1e-12 {
		t.Errorf("solids mass %g g after push, want %g", solAfter, solBefore+addedSolMass)
	}
	if rel := math.Abs(chemAfter-(chemBefore+addedChemMass)) / chemAfter; rel > 1e-12 {
		t.Errorf("chemical mass %g g after push, want %g", chemAfter, chemBefore+addedChemMass)
	}

	// Burial symmetry: mass out of the new surface equals mass into
	// the buried layer.
	newSurf := st.Surface()
	buried := &st.Layers[st.N-2]
	if out, in := newSurf.SolAcc[0][ProcBurial].OutMass, buried.SolAcc[0][ProcBurial].InMass; out != in || out <= 0 {
		t.Errorf("solids burial out %g kg != burial in %g kg", out, in)
	}
	if out, in := newSurf.ChemAcc[0][ProcBurial].OutMass, buried.ChemAcc[0][ProcBurial].InMass; out != in || out <= 0 {
		t.Errorf("chemical burial out %g kg != burial in %g kg", out, in)
	}

	// Stack bounds invariant.
	if !(newSurf.Volume > newSurf.MinVolume && newSurf.Volume < newSurf.MaxVolume) {
		t.Errorf("surface volume %g outside (%g, %g) after push",
			newSurf.Volume, newSurf.MinVolume, newSurf.MaxVolume)
	}
	// The buried layer is restored to its resting geometry.
	if math.Abs(buried.Volume-1e3) > 1e-9 {
		t.Errorf("buried layer volume = %g m³, want restored 1000", buried.Volume)
	}
	// Volume-area-thickness consistency.
	for k := 0; k < st.N; k++ {
		ly := &st.Layers[k]
		if rel := math.Abs(ly.Volume-ly.Area*ly.Thickness) / ly.Volume; rel > 1e-4 {
			t.Errorf("layer %d: |V − A·h|/V = %g", k+1, rel)
		}
	}
}

// An under-volume surface layer merges into the one below; the stack
// shrinks by one and scour accounting is symmetric.
func TestPop(t *testing.T) {
	d := stackDomain(3, false)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	st := d.Cells[0].Stack
	solBefore, chemBefore := stackMasses(st)

	surf := st.Surface()
	removed := surf.Volume - surf.MinVolume*0.99
	removedSol := surf.Csol[0] * removed
	removedChem := surf.Cchem[0] * removed
	surf.Volume = surf.MinVolume * 0.99
	surf.VolumeNew = surf.Volume

	popSurfIdx := st.N - 1
	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 1 {
		t.Fatalf("nstack = %d after pop, want 1", st.N)
	}

	solAfter, chemAfter := stackMasses(st)
	if rel := math.Abs(solAfter-(solBefore-removedSol)) / solAfter; rel > 1e-12 {
		t.Errorf("solids mass %g g after pop, want %g", solAfter, solBefore-removedSol)
	}
	if rel := math.Abs(chemAfter-(chemBefore-removedChem)) / chemAfter; rel > 1e-12 {
		t.Errorf("chemical mass %g g after pop, want %g", chemAfter, chemBefore-removedChem)
	}

	former := &st.Layers[popSurfIdx]
	merged := st.Surface()
	if out, in := former.SolAcc[0][ProcScour].OutMass, merged.SolAcc[0][ProcScour].InMass; out != in || out <= 0 {
		t.Errorf("solids scour out %g kg != scour in %g kg", out, in)
	}
}

// A push followed by enough scour pops the stack back to its original
// depth with everything conserved.
func TestPushPopCycle(t *testing.T) {
	d := stackDomain(3, false)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	st := d.Cells[0].Stack

	surf := st.Surface()
	surf.Volume = surf.MaxVolume * 1.01
	surf.VolumeNew = surf.Volume
	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 3 {
		t.Fatalf("nstack = %d, want 3", st.N)
	}

	surf = st.Surface()
	surf.Volume = surf.MinVolume * 0.5
	surf.VolumeNew = surf.Volume
	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 2 {
		t.Fatalf("nstack = %d after pop, want the original 2", st.N)
	}
	if st.N < 1 || st.N > d.MaxStack {
		t.Errorf("nstack = %d outside [1, %d]", st.N, d.MaxStack)
	}
}

// At capacity with the collapse option on, the bottom two layers merge
// to make room, the event is reported, and mass is conserved.
func TestCollapse(t *testing.T) {
	d := stackDomain(3, true)
	var warnings bytes.Buffer
	d.Warnings = &warnings
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	st := d.Cells[0].Stack

	// Fill the stack to capacity with a first push.
	surf := st.Surface()
	surf.Volume = surf.MaxVolume * 1.01
	surf.VolumeNew = surf.Volume
	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 3 {
		t.Fatalf("nstack = %d, want the full 3", st.N)
	}

	solBefore, chemBefore := stackMasses(st)
	surf = st.Surface()
	grow := surf.MaxVolume*1.01 - surf.Volume
	solBefore += surf.Csol[0] * grow
	chemBefore += surf.Cchem[0] * grow
	surf.Volume = surf.MaxVolume * 1.01
	surf.VolumeNew = surf.Volume

	if err := d.reindexStacks(); err != nil {
		t.Fatal(err)
	}
	if st.N != 3 {
		t.Errorf("nstack = %d after collapse+push, want 3", st.N)
	}
	if !strings.Contains(warnings.String(), "stack collapse") {
		t.Error("collapse event was not reported")
	}

	solAfter, chemAfter := stackMasses(st)
	if rel := math.Abs(solAfter-solBefore) / solAfter; rel > 1e-6 {
		t.Errorf("solids mass %g g after collapse, want %g (1e-6)", solAfter, solBefore)
	}
	if rel := math.Abs(chemAfter-chemBefore) / chemAfter; rel > 1e-6 {
		t.Errorf("chemical mass %g g after collapse, want %g (1e-6)", chemAfter, chemBefore)
	}
}

// With the stack full and no collapse option, a push is fatal.
func TestStackFull(t *testing.T) {
	d := stackDomain(2, false)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	st := d.Cells[0].Stack
	surf := st.Surface()
	surf.Volume = surf.MaxVolume * 1.01
	surf.VolumeNew = surf.Volume

	err := d.reindexStacks()
	se, ok := err.(*SimulationError)
	if !ok {
		t.Fatalf("expected a simulation error, got %v", err)
	}
	if se.Code != ErrSoilStackFull {
		t.Errorf("error code = %d, want %d", se.Code, ErrSoilStackFull)
	}
	if se.Row != 1 || se.Col != 1 {
		t.Errorf("error location (%d,%d), want (1,1)", se.Row, se.Col)
	}
}

// Aggradation that drives a channel bed above its banks is fatal, and the
// diagnostic reports both the overland and the channel locations.
func TestBankHeightViolation(t *testing.T) {
	d := newChannelDomain()
	d.SimulateSol = true
	d.Solids = []*SolidFraction{{Name: "silt", SpecificGravity: 2.65}}
	d.SolidGroups = []string{"solids"}
	d.MaxStack = 3
	d.MinVolFrac = 0.5
	d.MaxVolFrac = 1.5
	n1 := d.Links[0].Nodes[0]
	n1.Stack = NewStack(-0.2, 3, []Layer{
		{Thickness: 0.1, Area: 200, BottomWidth: 2, Porosity: 0.5, Csol: []float64{1e5}},
		{Thickness: 0.1, Area: 200, BottomWidth: 2, Porosity: 0.5, Csol: []float64{1e5}},
	})
	d.UpdateElev = true
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	// Lower the cell surface from 1.0 m to 0.05 m; the push below
	// raises the bed surface from 0 to 0.08 m, above it.
	n1.Cell.Elevation = 0.05
	st := n1.Stack
	surf := st.Surface()
	surf.Volume = surf.MaxVolume * 1.2
	surf.VolumeNew = surf.Volume

	err := d.reindexStacks()
	se, ok := err.(*SimulationError)
	if !ok {
		t.Fatalf("expected a simulation error, got %v", err)
	}
	if se.Code != ErrBankHeightPush {
		t.Errorf("error code = %d, want %d", se.Code, ErrBankHeightPush)
	}
	if se.Link != 1 || se.Node != 1 || se.Row != 1 || se.Col != 1 {
		t.Errorf("diagnostic location link %d node %d row %d col %d; "+
			"want both locations reported", se.Link, se.Node, se.Row, se.Col)
	}
}
