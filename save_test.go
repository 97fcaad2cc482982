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
	"testing"
)

// A checkpoint written mid-run restores the prior state within float
// tolerance for every cell and layer.
func TestCheckpointRoundTrip(t *testing.T) {
	d := newPondDomain(1, 1)
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	c.Csol[0], c.CsolNew[0] = 50, 50
	c.Cchem[0], c.CchemNew[0] = 5, 5
	d.CaptureInitialState()

	// Advance half the run, checkpoint, and remember the state.
	for i := 0; i < 180; i++ {
		if err := d.Step(); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		t.Fatal(err)
	}
	depth := c.Depth
	csol := c.Csol[0]
	cchem := c.Cchem[0]
	layerSol := c.Stack.Surface().Csol[0]
	simTime := d.SimTime

	// Run to completion, then rewind to the checkpoint.
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(&buf); err != nil {
		t.Fatal(err)
	}

	if math.Abs(d.SimTime-simTime) > 1e-12 {
		t.Errorf("sim time = %g, want %g", d.SimTime, simTime)
	}
	if math.Abs(c.Depth-depth) > 1e-12 {
		t.Errorf("depth = %g, want %g", c.Depth, depth)
	}
	if math.Abs(c.Csol[0]-csol) > 1e-12 {
		t.Errorf("solids = %g, want %g", c.Csol[0], csol)
	}
	if math.Abs(c.Cchem[0]-cchem) > 1e-12 {
		t.Errorf("chemical = %g, want %g", c.Cchem[0], cchem)
	}
	if got := c.Stack.Surface().Csol[0]; math.Abs(got-layerSol) > 1e-12 {
		t.Errorf("surface layer solids = %g, want %g", got, layerSol)
	}

	// The rewound run continues to the same end state.
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
}

// Restart grids reproduce the soil/sediment and water-column state in
// a freshly built twin domain.
func TestRestartGridRoundTrip(t *testing.T) {
	dir := t.TempDir()

	d := newPondDomain(1, 1)
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	c.Csol[0], c.CsolNew[0] = 50, 50
	c.Stack.Surface().Csol[0] = 2e5
	c.Stack.Surface().CsolNew[0] = 2e5
	c.Stack.Surface().Cchem[0] = 30
	c.Stack.Surface().CchemNew[0] = 30
	d.CaptureInitialState()
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteRestartGrids(dir); err != nil {
		t.Fatal(err)
	}

	d2 := newPondDomain(1, 1)
	if err := d2.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d2.ReadRestartGrids(dir, RestartFull); err != nil {
		t.Fatal(err)
	}
	c2 := d2.Cells[0]
	if math.Abs(c2.Depth-c.Depth) > 1e-12 {
		t.Errorf("restored depth = %g, want %g", c2.Depth, c.Depth)
	}
	if math.Abs(c2.Csol[0]-c.Csol[0]) > 1e-12 {
		t.Errorf("restored solids = %g, want %g", c2.Csol[0], c.Csol[0])
	}
	if got, want := c2.Stack.Surface().Csol[0], c.Stack.Surface().Csol[0]; math.Abs(got-want) > 1e-9*want {
		t.Errorf("restored layer solids = %g, want %g", got, want)
	}
	if got, want := c2.Stack.Surface().Cchem[0], c.Stack.Surface().Cchem[0]; math.Abs(got-want) > 1e-9*math.Max(want, 1) {
		t.Errorf("restored layer chemical = %g, want %g", got, want)
	}

	// Bed-only restart leaves the water column untouched.
	d3 := newPondDomain(1, 1)
	if err := d3.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d3.ReadRestartGrids(dir, RestartBed); err != nil {
		t.Fatal(err)
	}
	c3 := d3.Cells[0]
	if c3.Depth != 0 {
		t.Errorf("bed-only restart set depth = %g, want 0", c3.Depth)
	}
	if got, want := c3.Stack.Surface().Csol[0], c.Stack.Surface().Csol[0]; math.Abs(got-want) > 1e-9*want {
		t.Errorf("bed-only restart layer solids = %g, want %g", got, want)
	}
}

// Loading a checkpoint into a mismatched topology fails.
func TestLoadTopologyMismatch(t *testing.T) {
	d := newPondDomain(1, 0)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		t.Fatal(err)
	}

	d2 := &TREX{
		NRows: 1, NCols: 2, CellSize: 100, Nodata: -9999,
		TStart: 0, TEnd: 1,
		Cells: []*Cell{
			{Row: 1, Col: 1, Mask: MaskOverland, SkyView: 1},
			{Row: 1, Col: 2, Mask: MaskOverland, SkyView: 1},
		},
	}
	d2.DtSchedule([]float64{10}, []float64{1})
	if err := d2.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d2.Load(&buf); err == nil {
		t.Error("mismatched topology was accepted")
	}
}
