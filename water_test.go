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
	"testing"
)

// Pure rainfall on a flat, sealed cell: 50 mm/h for one hour onto a
// 100 m cell accumulates 0.050 m of depth.
func TestRainfallAccumulation(t *testing.T) {
	d := newPondDomain(0, 0)
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	if math.Abs(c.Depth-0.050) > 1e-6 {
		t.Errorf("final depth = %g m, want 0.050 ± 1e-6", c.Depth)
	}
	if c.WaterIn[SourceLoad] < 499.9 || c.WaterIn[SourceLoad] > 500.1 {
		t.Errorf("cumulative rain volume = %g m³, want 500 ± 0.1", c.WaterIn[SourceLoad])
	}
}

// The same storm on a cell with an outlet: every drop of the 500 m³
// of rain is either still stored or has crossed the boundary.
func TestRainfallRunoffVolume(t *testing.T) {
	d := newPondDomain(0, 0)
	d.TEnd = 10
	d.DtSchedule([]float64{10}, []float64{d.TEnd})
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	d.Outlets = []*Outlet{{Row: 1, Col: 1, Slope: 0.01}}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	outflow := c.WaterOut[SourceBoundary]
	storage := c.Depth * c.Area
	total := outflow + storage
	rain := c.WaterIn[SourceLoad]
	if math.Abs(total-rain) > 1e-6*rain {
		t.Errorf("outflow %g + storage %g = %g m³, want the %g m³ of rain",
			outflow, storage, total, rain)
	}
	if math.Abs(rain-500) > 2 {
		t.Errorf("cumulative rain = %g m³, want about 500", rain)
	}
	if outflow <= 400 {
		t.Errorf("outflow = %g m³; the cell should have mostly drained", outflow)
	}
	out := d.Outlets[0]
	if out.PeakFlow <= 0 || out.PeakTime < 0 || out.PeakTime > 1.5 {
		t.Errorf("peak flow %g m³/s at %g h; want a positive peak near the storm",
			out.PeakFlow, out.PeakTime)
	}
}

// Green-Ampt infiltration at a constant 10 mm/h under the S1 storm:
// final depth 0.040 m and 100 m³ infiltrated through the 10⁴ m² cell.
func TestInfiltration(t *testing.T) {
	d := newPondDomain(0, 0)
	d.Infiltration = true
	d.Cells[0].Soil = &SoilType{
		Name: "sand",
		Kh:   0.010 / 3600., // 10 mm/h
		// With no moisture deficit the wetting-front term vanishes
		// and the rate stays at Kh.
		MoistureDeficit: 0,
	}
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	if math.Abs(c.Depth-0.040) > 1e-5 {
		t.Errorf("final depth = %g m, want 0.040 ± 1e-5", c.Depth)
	}
	infiltrated := c.WaterOut[SourceLoad]
	if math.Abs(infiltrated-100) > 0.1 {
		t.Errorf("cumulative infiltration = %g m³, want 100 ± 0.1%%", infiltrated)
	}
}

// Interception storage takes the first rain.
func TestInterception(t *testing.T) {
	d := newPondDomain(0, 0)
	d.Cells[0].LandUse = &LandUse{Name: "forest", ManningN: 0.1, Interception: 0.002}
	d.Cells[0].Interception = 0.002
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	if math.Abs(c.Depth-0.048) > 1e-6 {
		t.Errorf("final depth = %g m, want 0.048 (2 mm intercepted)", c.Depth)
	}
	if c.Interception > 1e-12 {
		t.Errorf("remaining interception storage = %g, want 0", c.Interception)
	}
}

// Overland flow moves water downhill between neighbors.
func TestOverlandRouting(t *testing.T) {
	hi := &Cell{Row: 1, Col: 1, Mask: MaskOverland, Elevation: 1,
		SkyView: 1, LandUse: &LandUse{ManningN: 0.05}}
	lo := &Cell{Row: 1, Col: 2, Mask: MaskOverland, Elevation: 0,
		SkyView: 1, LandUse: &LandUse{ManningN: 0.05}}
	d := &TREX{
		NRows: 1, NCols: 2,
		CellSize: 100, Nodata: -9999,
		TStart: 0, TEnd: 0.1,
		Cells: []*Cell{hi, lo},
	}
	d.DtSchedule([]float64{1}, []float64{d.TEnd})
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	hi.Depth, hi.DepthNew = 0.1, 0.1
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if lo.Depth <= 0 {
		t.Error("no water reached the downhill cell")
	}
	if hi.Depth >= 0.1 {
		t.Error("uphill cell did not drain")
	}
	total := (hi.Depth + lo.Depth) * 1e4
	if math.Abs(total-1000) > 1e-6 {
		t.Errorf("total water = %g m³, want 1000 (conservation)", total)
	}
}

// Channel flow routes along the node chain and leaves the outlet.
func TestChannelRouting(t *testing.T) {
	d := newChannelDomain()
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	n1 := d.Links[0].Nodes[0]
	n2 := d.Links[0].Nodes[1]
	n1.Depth, n1.DepthNew = 0.5, 0.5
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if n2.WaterIn[SourceN] <= 0 {
		t.Error("no flow reached the downstream node")
	}
	if n2.WaterOut[SourceBoundary] <= 0 {
		t.Error("no flow left the outlet")
	}
}

// newChannelDomain builds a 1×2 domain with a two-node channel link
// and an outlet at the downstream node.
func newChannelDomain() *TREX {
	c1 := &Cell{Row: 1, Col: 1, Mask: MaskChannel, Elevation: 1.0,
		SkyView: 1, LandUse: &LandUse{ManningN: 0.05}}
	c2 := &Cell{Row: 1, Col: 2, Mask: MaskChannel, Elevation: 0.9,
		SkyView: 1, LandUse: &LandUse{ManningN: 0.05}}
	n1 := &ChannelNode{Link: 1, Node: 1, Cell: c1,
		BottomWidth: 2, BankHeight: 1, SideSlope: 1, Length: 100,
		ManningN: 0.03, Elevation: 0.0, Slope: 0.001}
	n2 := &ChannelNode{Link: 1, Node: 2, Cell: c2,
		BottomWidth: 2, BankHeight: 1, SideSlope: 1, Length: 100,
		ManningN: 0.03, Elevation: -0.1, Slope: 0.001}
	n1.Down = []*ChannelNode{n2}
	n2.Up = []*ChannelNode{n1}
	d := &TREX{
		NRows: 1, NCols: 2,
		CellSize: 100, Nodata: -9999,
		TStart: 0, TEnd: 0.5,
		Channels: true,
		Cells:    []*Cell{c1, c2},
		Links:    []*Link{{Num: 1, Nodes: []*ChannelNode{n1, n2}}},
		Outlets:  []*Outlet{{Link: 1, Node: 2, Slope: 0.001}},
	}
	d.DtSchedule([]float64{10}, []float64{d.TEnd})
	return d
}

// A channel filled above its banks spills onto the floodplain.
func TestFloodplainExchange(t *testing.T) {
	d := newChannelDomain()
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	n1 := d.Links[0].Nodes[0]
	n1.Depth, n1.DepthNew = 1.5, 1.5 // half a meter above the banks
	if err := d.Step(); err != nil {
		t.Fatal(err)
	}
	if n1.Cell.WaterIn[SourceFloodplain] <= 0 {
		t.Error("no overtopping flow onto the plane")
	}
}
