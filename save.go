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
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ctessum/sparse"
)

// StateDataVersion is stamped into checkpoints and checked on load.
const StateDataVersion = "1"

// Restart modes, matching the CLI argument.
const (
	RestartNone  = iota // read no restart, write restart at end
	RestartBed          // read soil/sediment initial conditions, no surface water
	RestartFull         // read full state including surface water
)

// layerState is the serializable form of one stack layer.
type layerState struct {
	Thickness, Area, BottomWidth float64
	Porosity, Volume             float64
	Csol, Cchem                  []float64
}

// columnState is the serializable form of one water column.
type columnState struct {
	Depth       float64
	Csol, Cchem []float64
	N           int // active stack layers
	Layers      []layerState
}

type cellState struct {
	State                           columnState
	SWE, Interception, WettingFront float64
	TauAge, TauPeak, Elevation      float64
}

type nodeState struct {
	State                              columnState
	BankHeight, BottomWidth, SideSlope float64
	Elevation, TopWidth                float64
	TauAge, TauPeak                    float64
}

type domainState struct {
	DataVersion string
	SimTime     float64
	Cells       []cellState
	Links       [][]nodeState
}

// Save writes a checkpoint of the full mutable domain state to w in
// gob format.
func (d *TREX) Save(w io.Writer) error {
	if len(d.Cells) == 0 {
		return fmt.Errorf("trex: TREX.Save: no grid cells to save")
	}
	st := domainState{DataVersion: StateDataVersion, SimTime: d.SimTime}
	for _, c := range d.Cells {
		st.Cells = append(st.Cells, cellState{
			State:        saveColumn(&c.Column),
			SWE:          c.SWE,
			Interception: c.Interception,
			WettingFront: c.WettingFront,
			TauAge:       c.TauAge,
			TauPeak:      c.TauPeak,
			Elevation:    c.Elevation,
		})
	}
	for _, l := range d.Links {
		var nodes []nodeState
		for _, n := range l.Nodes {
			nodes = append(nodes, nodeState{
				State:       saveColumn(&n.Column),
				BankHeight:  n.BankHeight,
				BottomWidth: n.BottomWidth,
				SideSlope:   n.SideSlope,
				Elevation:   n.Elevation,
				TopWidth:    n.TopWidth,
				TauAge:      n.TauAge,
				TauPeak:     n.TauPeak,
			})
		}
		st.Links = append(st.Links, nodes)
	}
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		return fmt.Errorf("trex: TREX.Save: %v", err)
	}
	return nil
}

func saveColumn(w *Column) columnState {
	cs := columnState{
		Depth: w.Depth,
		Csol:  append([]float64(nil), w.Csol...),
		Cchem: append([]float64(nil), w.Cchem...),
	}
	if w.Stack != nil {
		cs.N = w.Stack.N
		for k := 0; k < w.Stack.N; k++ {
			ly := &w.Stack.Layers[k]
			cs.Layers = append(cs.Layers, layerState{
				Thickness:   ly.Thickness,
				Area:        ly.Area,
				BottomWidth: ly.BottomWidth,
				Porosity:    ly.Porosity,
				Volume:      ly.Volume,
				Csol:        append([]float64(nil), ly.Csol...),
				Cchem:       append([]float64(nil), ly.Cchem...),
			})
		}
	}
	return cs
}

// Load restores a checkpoint written by Save into an initialized
// domain with the same topology. Forcing cursors are reseeded by
// binary search on the restored sim time.
func (d *TREX) Load(r io.Reader) error {
	var st domainState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("trex: TREX.Load: %v", err)
	}
	if st.DataVersion != StateDataVersion {
		return fmt.Errorf("trex: TREX.Load: state version %s does not match %s",
			st.DataVersion, StateDataVersion)
	}
	if len(st.Cells) != len(d.Cells) || len(st.Links) != len(d.Links) {
		return fmt.Errorf("trex: TREX.Load: checkpoint topology (%d cells, %d links) "+
			"does not match the domain (%d cells, %d links)",
			len(st.Cells), len(st.Links), len(d.Cells), len(d.Links))
	}
	for i, cs := range st.Cells {
		c := d.Cells[i]
		loadColumn(&c.Column, &cs.State)
		c.SWE, c.SWENew = cs.SWE, cs.SWE
		c.Interception = cs.Interception
		c.WettingFront = cs.WettingFront
		c.TauAge, c.TauPeak = cs.TauAge, cs.TauPeak
		c.Elevation = cs.Elevation
	}
	for li, nodes := range st.Links {
		if len(nodes) != len(d.Links[li].Nodes) {
			return fmt.Errorf("trex: TREX.Load: link %d has %d nodes in the checkpoint "+
				"and %d in the domain", li+1, len(nodes), len(d.Links[li].Nodes))
		}
		for ni, ns := range nodes {
			n := d.Links[li].Nodes[ni]
			loadColumn(&n.Column, &ns.State)
			n.BankHeight = ns.BankHeight
			n.BottomWidth = ns.BottomWidth
			n.SideSlope = ns.SideSlope
			n.Elevation = ns.Elevation
			n.TopWidth = ns.TopWidth
			n.TauAge, n.TauPeak = ns.TauAge, ns.TauPeak
		}
	}
	d.SimTime = st.SimTime
	d.Done = false
	d.step = 0
	if d.Env != nil {
		d.Env.Reseed(d.SimTime)
	}
	for _, g := range d.RainGauges {
		g.Reseed(d.SimTime)
	}
	for _, ld := range d.Loads {
		ld.Func.Reseed(d.SimTime)
	}
	for _, o := range d.Outlets {
		for _, bc := range o.BC {
			if bc != nil {
				bc.Reseed(d.SimTime)
			}
		}
	}
	d.Ledger = newMassLedger(d)
	return nil
}

func loadColumn(w *Column, cs *columnState) {
	w.Depth, w.DepthNew = cs.Depth, cs.Depth
	copy(w.Csol, cs.Csol)
	copy(w.CsolNew, cs.Csol)
	copy(w.Cchem, cs.Cchem)
	copy(w.CchemNew, cs.Cchem)
	if w.Stack != nil && cs.N > 0 {
		w.Stack.N = cs.N
		elev := w.Stack.Base
		for k := 0; k < cs.N; k++ {
			ly := &w.Stack.Layers[k]
			ls := &cs.Layers[k]
			ly.Thickness = ls.Thickness
			ly.Area = ls.Area
			ly.BottomWidth = ls.BottomWidth
			ly.Porosity = ls.Porosity
			ly.Volume, ly.VolumeNew = ls.Volume, ls.Volume
			elev += ly.Thickness
			ly.Elevation = elev
			copy(ly.Csol, ls.Csol)
			copy(ly.CsolNew, ls.Csol)
			copy(ly.Cchem, ls.Cchem)
			copy(ly.CchemNew, ls.Cchem)
		}
	}
}

// WriteRestartGrids writes the per-layer state variables as ESRI ASCII
// grids under dir, one grid per layer per variable, named
// <variable>_<layer>.asc. Layer 0 is the water column.
func (d *TREX) WriteRestartGrids(dir string) error {
	spec := d.gridSpec()

	write := func(name string, layer int, value func(c *Cell) float64) error {
		data := sparse.ZerosDense(d.NRows, d.NCols)
		for i := range data.Elements {
			data.Elements[i] = d.Nodata
		}
		for _, c := range d.Cells {
			data.Set(value(c), c.Row-1, c.Col-1)
		}
		fname := filepath.Join(dir, fmt.Sprintf("%s_%d.asc", name, layer))
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("trex: writing restart grid: %v", err)
		}
		defer f.Close()
		return WriteGrid(f, spec, data)
	}

	if err := write("depth", 0, func(c *Cell) float64 { return c.Depth }); err != nil {
		return err
	}
	if err := write("swe", 0, func(c *Cell) float64 { return c.SWE }); err != nil {
		return err
	}
	for i, s := range d.Solids {
		i := i
		if err := write("solids_"+s.Name, 0, func(c *Cell) float64 { return c.Csol[i] }); err != nil {
			return err
		}
		for k := 0; k < d.MaxStack; k++ {
			k := k
			err := write("solids_"+s.Name, k+1, func(c *Cell) float64 {
				if c.Stack == nil || k >= c.Stack.N {
					return d.Nodata
				}
				return c.Stack.Layers[k].Csol[i]
			})
			if err != nil {
				return err
			}
		}
	}
	for i, ch := range d.Chems {
		i := i
		if err := write("chem_"+ch.Name, 0, func(c *Cell) float64 { return c.Cchem[i] }); err != nil {
			return err
		}
		for k := 0; k < d.MaxStack; k++ {
			k := k
			err := write("chem_"+ch.Name, k+1, func(c *Cell) float64 {
				if c.Stack == nil || k >= c.Stack.N {
					return d.Nodata
				}
				return c.Stack.Layers[k].Cchem[i]
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRestartGrids reads restart grids written by WriteRestartGrids.
// When mode is RestartBed the water-column variables are skipped and
// only the soil/sediment state is restored.
func (d *TREX) ReadRestartGrids(dir string, mode int) error {
	read := func(name string, layer int, assign func(c *Cell, v float64)) error {
		fname := filepath.Join(dir, fmt.Sprintf("%s_%d.asc", name, layer))
		f, err := os.Open(fname)
		if err != nil {
			return fmt.Errorf("trex: reading restart grid: %v", err)
		}
		defer f.Close()
		data, spec, err := ReadGrid(f)
		if err != nil {
			return err
		}
		if err := d.checkGrid(spec, fname); err != nil {
			return err
		}
		for _, c := range d.Cells {
			v := data.Get(c.Row-1, c.Col-1)
			if v != d.Nodata {
				assign(c, v)
			}
		}
		return nil
	}

	if mode == RestartFull {
		if err := read("depth", 0, func(c *Cell, v float64) { c.Depth, c.DepthNew = v, v }); err != nil {
			return err
		}
		if err := read("swe", 0, func(c *Cell, v float64) { c.SWE, c.SWENew = v, v }); err != nil {
			return err
		}
	}
	for i, s := range d.Solids {
		i := i
		if mode == RestartFull {
			err := read("solids_"+s.Name, 0, func(c *Cell, v float64) {
				c.Csol[i], c.CsolNew[i] = v, v
			})
			if err != nil {
				return err
			}
		}
		for k := 0; k < d.MaxStack; k++ {
			k := k
			err := read("solids_"+s.Name, k+1, func(c *Cell, v float64) {
				if c.Stack != nil && k < c.Stack.N {
					c.Stack.Layers[k].Csol[i] = v
					c.Stack.Layers[k].CsolNew[i] = v
				}
			})
			if err != nil {
				return err
			}
		}
	}
	for i, ch := range d.Chems {
		i := i
		if mode == RestartFull {
			err := read("chem_"+ch.Name, 0, func(c *Cell, v float64) {
				c.Cchem[i], c.CchemNew[i] = v, v
			})
			if err != nil {
				return err
			}
		}
		for k := 0; k < d.MaxStack; k++ {
			k := k
			err := read("chem_"+ch.Name, k+1, func(c *Cell, v float64) {
				if c.Stack != nil && k < c.Stack.N {
					c.Stack.Layers[k].Cchem[i] = v
					c.Stack.Layers[k].CchemNew[i] = v
				}
			})
			if err != nil {
				return err
			}
		}
	}
	d.Ledger = newMassLedger(d)
	return nil
}
