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

import "fmt"

// Layer is one element of a soil or sediment stack.
type Layer struct {
	Thickness   float64 `units:"m"`
	Area        float64 `desc:"Horizontal (bed) area" units:"m²"`
	BottomWidth float64 `desc:"Channel bed bottom width" units:"m"`
	Porosity    float64 `units:"fraction"`
	Volume      float64 `units:"m³"`
	VolumeNew   float64 `desc:"Volume at end of step" units:"m³"`
	MinVolume   float64 `desc:"Pop trigger" units:"m³"`
	MaxVolume   float64 `desc:"Push trigger" units:"m³"`
	Elevation   float64 `desc:"Elevation of the layer's top interface" units:"m"`

	Csol    []float64 `desc:"Solids concentrations" units:"g/m³"`
	CsolNew []float64
	Cchem    []float64 `desc:"Chemical concentrations" units:"g/m³"`
	CchemNew []float64

	Fd []float64   // dissolved fraction per chemical (porewater)
	Fb []float64   // DOC-bound fraction per chemical
	Fp [][]float64 // particulate fraction per chemical per solid

	Fpoc []float64 // fraction particulate organic carbon per solid

	SolAcc  [][]Accum // [fraction][process]
	ChemAcc [][]Accum // [species][process]
}

// Stack is the vertical column of layers below one cell or node.
// Layers[0] is the deepest layer; Layers[N-1] is the surface layer in
// contact with the water column. Capacity is fixed at maxstack; the
// initial geometry of each layer position is retained for restoration
// when burial re-creates a previously eroded layer.
type Stack struct {
	Layers []Layer // capacity maxstack, active length N
	N      int     // number of active layers
	N0     int     // number of layers at initialization
	Base   float64 // elevation of the bottom of layer 1 (m)

	init []Layer // initial geometry by layer position
}

// NewStack builds a stack from bottom-up layer descriptions. Volume,
// thresholds, and interface elevations are derived during prepare.
func NewStack(base float64, maxstack int, layers []Layer) *Stack {
	st := &Stack{
		Layers: make([]Layer, maxstack),
		N:      len(layers),
		N0:     len(layers),
		Base:   base,
	}
	copy(st.Layers, layers)
	return st
}

// Surface returns the surface layer. The stack always holds at least
// one layer.
func (st *Stack) Surface() *Layer { return &st.Layers[st.N-1] }

// SurfaceElevation returns the elevation of the top of the stack.
func (st *Stack) SurfaceElevation() float64 { return st.Surface().Elevation }

func (st *Stack) prepare(nsol, nchem int, minFrac, maxFrac float64) {
	elev := st.Base
	for k := 0; k < st.N; k++ {
		ly := &st.Layers[k]
		ly.Volume = ly.Area * ly.Thickness
		ly.VolumeNew = ly.Volume
		ly.MinVolume = minFrac * ly.Volume
		ly.MaxVolume = maxFrac * ly.Volume
		elev += ly.Thickness
		ly.Elevation = elev
	}
	for k := range st.Layers {
		st.Layers[k].prepare(nsol, nchem)
	}
	st.init = make([]Layer, st.N0)
	for k := 0; k < st.N0; k++ {
		src := &st.Layers[k]
		st.init[k] = Layer{
			Thickness:   src.Thickness,
			Area:        src.Area,
			BottomWidth: src.BottomWidth,
			Porosity:    src.Porosity,
			Volume:      src.Volume,
		}
	}
}

func (ly *Layer) prepare(nsol, nchem int) {
	ly.Csol = resize(ly.Csol, nsol)
	ly.CsolNew = make([]float64, nsol)
	copy(ly.CsolNew, ly.Csol)
	ly.Cchem = resize(ly.Cchem, nchem)
	ly.CchemNew = make([]float64, nchem)
	copy(ly.CchemNew, ly.Cchem)
	ly.Fd = make([]float64, nchem)
	ly.Fb = make([]float64, nchem)
	ly.Fp = make([][]float64, nchem)
	for i := range ly.Fp {
		// Fully dissolved until partitioning says otherwise.
		ly.Fd[i] = 1
		ly.Fp[i] = make([]float64, nsol)
	}
	if ly.Fpoc == nil {
		ly.Fpoc = make([]float64, nsol)
	}
	ly.SolAcc = makeAccum(nsol)
	ly.ChemAcc = makeAccum(nchem)
}

// resize grows or truncates s to length n, preserving its prefix.
func resize(s []float64, n int) []float64 {
	if len(s) == n {
		return s
	}
	o := make([]float64, n)
	copy(o, s)
	return o
}

func (st *Stack) resetFluxes() {
	for k := 0; k < st.N; k++ {
		ly := &st.Layers[k]
		for i := range ly.SolAcc {
			for p := range ly.SolAcc[i] {
				ly.SolAcc[i][p].InFlux, ly.SolAcc[i][p].OutFlux = 0, 0
			}
		}
		for i := range ly.ChemAcc {
			for p := range ly.ChemAcc[i] {
				ly.ChemAcc[i][p].InFlux, ly.ChemAcc[i][p].OutFlux = 0, 0
			}
		}
	}
}

// reindexStacks runs the burial/scour re-indexing over the whole
// domain. It must complete for every column before the next step
// starts. Each column's stack is independent, so ordering within the
// pass is immaterial.
func (d *TREX) reindexStacks() error {
	for _, c := range d.Cells {
		if c.Stack == nil {
			continue
		}
		if err := d.reindexColumn(c.Stack, &c.Column, c, nil); err != nil {
			return err
		}
	}
	var err error
	d.eachNode(func(n *ChannelNode) {
		if err != nil || n.Stack == nil {
			return
		}
		err = d.reindexColumn(n.Stack, &n.Column, n.Cell, n)
	})
	return err
}

// reindexColumn applies at most one push or one pop to a single stack.
// cell is always the overland cell; node is non-nil for sediment
// stacks, whose bank geometry must be recomputed afterwards.
func (d *TREX) reindexColumn(st *Stack, w *Column, cell *Cell, node *ChannelNode) error {
	surf := st.Surface()
	switch {
	case surf.Volume > surf.MaxVolume:
		if st.N == d.MaxStack {
			if !(d.CollapseStack && d.MaxStack > 2) {
				return d.stackFullError(cell, node, st)
			}
			st.collapse(d)
			fmt.Fprintf(d.Warnings, "stack collapse: %s time = %.4f h\n",
				locString(cell, node), d.SimTime)
		}
		st.push(d)
		if err := d.updateSurfaceGeometry(st, cell, node, true); err != nil {
			return err
		}
	case surf.Volume < surf.MinVolume && st.N > 1:
		st.pop(d)
		if err := d.updateSurfaceGeometry(st, cell, node, false); err != nil {
			return err
		}
	}
	return nil
}

// push splits the surface layer: the split-off portion becomes the new
// surface layer and the remainder is restored to its resting geometry
// as a subsurface layer. Mass remaining below is accounted as burial
// out of the former surface position and burial into its new
// subsurface identity.
func (st *Stack) push(d *TREX) {
	// 1-based position of the incoming surface layer.
	inew := st.N + 1

	old := &st.Layers[st.N-1] // the overfull surface layer
	nw := &st.Layers[st.N]    // the slot the new surface occupies
	if nw.Csol == nil || nw.SolAcc == nil {
		nw.prepare(d.nsol, d.nchem)
	}

	// The restored geometry depends on the new layer's position. A
	// split at a position that previously existed restores that
	// position's original geometry to the new surface and the pushed
	// layer's own original geometry below it; a split above the
	// initial surface clones the original surface layer for both.
	iposNew, iposOld := inew, inew-1
	if inew > st.N0 {
		iposNew, iposOld = st.N0, st.N0
	}
	geoNew := &st.init[iposNew-1]
	geoOld := &st.init[iposOld-1]

	nw.Volume = old.Volume - geoOld.Volume
	nw.VolumeNew = nw.Volume
	nw.Area = geoNew.Area
	nw.BottomWidth = geoNew.BottomWidth
	nw.Thickness = nw.Volume / nw.Area
	nw.MinVolume = d.MinVolFrac * geoNew.Volume
	nw.MaxVolume = d.MaxVolFrac * geoNew.Volume
	nw.Porosity = geoNew.Porosity

	// Restore the pushed layer to its resting geometry; the mass that
	// stays with it is the buried mass.
	old.Volume = geoOld.Volume
	old.VolumeNew = old.Volume
	old.Area = geoOld.Area
	old.BottomWidth = geoOld.BottomWidth
	old.Thickness = geoOld.Thickness
	old.MinVolume = d.MinVolFrac * geoOld.Volume
	old.MaxVolume = d.MaxVolFrac * geoOld.Volume

	nw.Elevation = old.Elevation + nw.Thickness

	for i := 0; i < d.nsol; i++ {
		nw.Csol[i] = old.Csol[i]
		nw.CsolNew[i] = old.Csol[i]
		tmass := old.Csol[i] * old.Volume / 1000.
		nw.SolAcc[i][ProcBurial].OutMass += tmass
		old.SolAcc[i][ProcBurial].InMass += tmass
		// The former surface no longer touches the water column.
		old.SolAcc[i][ProcErosion].OutFlux = 0
		old.SolAcc[i][ProcDeposition].InFlux = 0
	}
	if d.SimulateChem {
		for i := 0; i < d.nchem; i++ {
			nw.Cchem[i] = old.Cchem[i]
			nw.CchemNew[i] = old.Cchem[i]
			tmass := old.Cchem[i] * old.Volume / 1000.
			nw.ChemAcc[i][ProcBurial].OutMass += tmass
			old.ChemAcc[i][ProcBurial].InMass += tmass
			old.ChemAcc[i][ProcErosion].OutFlux = 0
			old.ChemAcc[i][ProcDeposition].InFlux = 0
		}
	}

	st.N++
}

// pop merges an under-volume surface layer into the layer below it,
// which becomes the new surface. Mass moved is accounted as scour out
// of the former surface and scour into the merged layer.
func (st *Stack) pop(d *TREX) {
	top := &st.Layers[st.N-1]
	lower := &st.Layers[st.N-2]

	v1, v2 := lower.Volume, top.Volume
	combined := v1 + v2

	for i := 0; i < d.nsol; i++ {
		m2 := top.Csol[i] * v2
		m1 := lower.Csol[i] * v1
		if combined > 0 {
			lower.Csol[i] = (m1 + m2) / combined
		}
		lower.CsolNew[i] = lower.Csol[i]
		top.SolAcc[i][ProcScour].OutMass += m2 / 1000.
		lower.SolAcc[i][ProcScour].InMass += m2 / 1000.
		top.Csol[i], top.CsolNew[i] = 0, 0
	}
	if d.SimulateChem {
		for i := 0; i < d.nchem; i++ {
			m2 := top.Cchem[i] * v2
			m1 := lower.Cchem[i] * v1
			if combined > 0 {
				lower.Cchem[i] = (m1 + m2) / combined
			}
			lower.CchemNew[i] = lower.Cchem[i]
			top.ChemAcc[i][ProcScour].OutMass += m2 / 1000.
			lower.ChemAcc[i][ProcScour].InMass += m2 / 1000.
			top.Cchem[i], top.CchemNew[i] = 0, 0
		}
	}

	lower.Volume = combined
	lower.VolumeNew = combined
	lower.Thickness = combined / lower.Area
	lower.Elevation = st.elevationBelow(st.N-2) + lower.Thickness

	top.Volume, top.VolumeNew = 0, 0
	st.N--
}

// collapse merges the bottom two layers to free a stack slot, keeping
// the upper layer's bed area, and shifts every layer above down one
// position. Mass moved during the shift is accounted as burial between
// adjacent positions, matching the identity change of each layer.
func (st *Stack) collapse(d *TREX) {
	l1 := &st.Layers[0]
	l2 := &st.Layers[1]

	v1, v2 := l1.Volume, l2.Volume
	combined := v1 + v2

	l1.Volume = combined
	l1.VolumeNew = combined
	l1.Area = l2.Area
	l1.BottomWidth = l2.BottomWidth
	l1.Thickness = combined / l2.Area
	l1.MinVolume = d.MinVolFrac * combined
	l1.MaxVolume = d.MaxVolFrac * combined
	l1.Elevation = l2.Elevation

	for i := 0; i < d.nsol; i++ {
		m2 := l2.Csol[i] * v2
		m1 := l1.Csol[i] * v1
		l1.Csol[i] = (m1 + m2) / combined
		l1.CsolNew[i] = l1.Csol[i]
		l2.SolAcc[i][ProcBurial].OutMass += m2 / 1000.
		l1.SolAcc[i][ProcBurial].InMass += m2 / 1000.
	}
	if d.SimulateChem {
		for i := 0; i < d.nchem; i++ {
			m2 := l2.Cchem[i] * v2
			m1 := l1.Cchem[i] * v1
			l1.Cchem[i] = (m1 + m2) / combined
			l1.CchemNew[i] = l1.Cchem[i]
			l2.ChemAcc[i][ProcBurial].OutMass += m2 / 1000.
			l1.ChemAcc[i][ProcBurial].InMass += m2 / 1000.
		}
	}

	// Shift layers 3..N down one slot, accounting the identity change
	// of each shifted layer's mass as burial.
	for k := 2; k < st.N; k++ {
		upper := st.Layers[k]
		for i := 0; i < d.nsol; i++ {
			tmass := upper.Csol[i] * upper.Volume / 1000.
			st.Layers[k].SolAcc[i][ProcBurial].OutMass += tmass
			st.Layers[k-1].SolAcc[i][ProcBurial].InMass += tmass
		}
		if d.SimulateChem {
			for i := 0; i < d.nchem; i++ {
				tmass := upper.Cchem[i] * upper.Volume / 1000.
				st.Layers[k].ChemAcc[i][ProcBurial].OutMass += tmass
				st.Layers[k-1].ChemAcc[i][ProcBurial].InMass += tmass
			}
		}
		dst := &st.Layers[k-1]
		dst.Thickness = upper.Thickness
		dst.Area = upper.Area
		dst.BottomWidth = upper.BottomWidth
		dst.Porosity = upper.Porosity
		dst.Volume = upper.Volume
		dst.VolumeNew = upper.VolumeNew
		dst.MinVolume = upper.MinVolume
		dst.MaxVolume = upper.MaxVolume
		dst.Elevation = upper.Elevation
		copy(dst.Csol, upper.Csol)
		copy(dst.CsolNew, upper.CsolNew)
		copy(dst.Cchem, upper.Cchem)
		copy(dst.CchemNew, upper.CchemNew)
	}

	st.N--
}

// elevationBelow returns the elevation of the bottom interface of the
// layer at slice index k.
func (st *Stack) elevationBelow(k int) float64 {
	if k == 0 {
		return st.Base
	}
	return st.Layers[k-1].Elevation
}

// updateSurfaceGeometry propagates a changed stack surface to the
// channel or ground geometry. For channels the bank height is
// recomputed from the overland surface elevation; a bank height driven
// to zero or below is fatal.
func (d *TREX) updateSurfaceGeometry(st *Stack, cell *Cell, node *ChannelNode, push bool) error {
	if node == nil {
		if d.UpdateElev {
			cell.Elevation = st.SurfaceElevation()
		}
		return nil
	}
	surf := st.Surface()
	node.BottomWidth = surf.BottomWidth
	if d.UpdateElev {
		node.Elevation = st.SurfaceElevation()
	}
	node.BankHeight = cell.Elevation - node.Elevation
	if node.BankHeight <= 0 {
		code := ErrBankHeightPop
		if push {
			code = ErrBankHeightPush
		}
		return &SimulationError{
			Code: code, Time: d.SimTime, Dt: d.Dt,
			Row: cell.Row, Col: cell.Col,
			Link: node.Link, Node: node.Node,
			Index: -1, Value: node.BankHeight,
		}
	}
	node.SideSlope = 0.5 * (node.TopWidth - node.BottomWidth) / node.BankHeight
	return nil
}

func (d *TREX) stackFullError(cell *Cell, node *ChannelNode, st *Stack) error {
	code := ErrSoilStackFull
	se := &SimulationError{
		Code: code, Time: d.SimTime, Dt: d.Dt,
		Row: cell.Row, Col: cell.Col,
		Index: -1, Value: float64(st.N), Limit: float64(d.MaxStack),
	}
	if node != nil {
		se.Code = ErrSedimentStackFull
		se.Link, se.Node = node.Link, node.Node
	}
	return se
}

func locString(cell *Cell, node *ChannelNode) string {
	if node != nil {
		return fmt.Sprintf("link = %d node = %d (row = %d col = %d)",
			node.Link, node.Node, cell.Row, cell.Col)
	}
	return fmt.Sprintf("row = %d col = %d", cell.Row, cell.Col)
}
