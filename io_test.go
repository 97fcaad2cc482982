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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
)

func TestGridRoundTrip(t *testing.T) {
	spec := GridSpec{Ncols: 3, Nrows: 2, Xll: 100, Yll: 200, CellSize: 30, Nodata: -9999}
	data := sparse.ZerosDense(2, 3)
	vals := []float64{1, 2.5, -9999, 4, 5, 6.75}
	copy(data.Elements, vals)

	var buf bytes.Buffer
	if err := WriteGrid(&buf, spec, data); err != nil {
		t.Fatal(err)
	}
	got, gotSpec, err := ReadGrid(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if gotSpec != spec {
		t.Errorf("header %+v, want %+v", gotSpec, spec)
	}
	for i, want := range vals {
		if got.Elements[i] != want {
			t.Errorf("element %d = %g, want %g", i, got.Elements[i], want)
		}
	}
}

func TestReadGridBadHeader(t *testing.T) {
	r := strings.NewReader("nrows 2\nncols 3\n") // wrong order
	if _, _, err := ReadGrid(r); err == nil {
		t.Error("out-of-order header was accepted")
	}
	r = strings.NewReader("ncols 2\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 10\nNODATA_value -9999\n1\n")
	if _, _, err := ReadGrid(r); err == nil {
		t.Error("truncated data was accepted")
	}
}

func TestGridMismatchFatal(t *testing.T) {
	d := newPondDomain(0, 0)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	err := d.checkGrid(GridSpec{Ncols: 5, Nrows: 5, CellSize: 100, Nodata: -9999}, "aux.asc")
	se, ok := err.(*SimulationError)
	if !ok {
		t.Fatalf("expected a simulation error, got %v", err)
	}
	if se.Code != ErrGridMismatch {
		t.Errorf("error code = %d, want %d", se.Code, ErrGridMismatch)
	}
}

func TestPrintSchedule(t *testing.T) {
	s := printSchedule{intervals: []float64{0.5, 1}, times: []float64{2, 4}}
	var events []float64
	for tm := 0.0; tm <= 4.0; tm += 0.25 {
		if s.due(tm) {
			events = append(events, tm)
		}
	}
	// First event immediately, then every 0.5 h until 2 h, then
	// every 1 h.
	want := []float64{0, 0.5, 1, 1.5, 2, 3, 4}
	if len(events) != len(want) {
		t.Fatalf("events at %v, want %v", events, want)
	}
	for i := range want {
		if math.Abs(events[i]-want[i]) > 1e-12 {
			t.Errorf("event %d at %g, want %g", i, events[i], want[i])
		}
	}
}

func TestBedChemMgKg(t *testing.T) {
	// 10 g/m³ of chemical on 1e5 g/m³ of solids is 100 mg/kg.
	if got := BedChemMgKg(10, []float64{6e4, 4e4}); math.Abs(got-100) > 1e-9 {
		t.Errorf("BedChemMgKg = %g, want 100", got)
	}
	if got := BedChemMgKg(10, []float64{0}); got != 0 {
		t.Errorf("BedChemMgKg with no solids = %g, want 0", got)
	}
}

func TestChemGroupPhaseAve(t *testing.T) {
	d := newPondDomain(1, 1)
	d.Chems[0].Partition = true
	d.Chems[0].Kp = 1e-2
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	c := d.Cells[0]
	c.Csol[0] = 100
	c.Cchem[0] = 10
	d.partitionAll()

	total := d.ChemGroupPhaseAve(c, false, PhaseTotal)
	if math.Abs(total[0]-1) > 1e-12 {
		t.Errorf("total phase average = %g, want 1", total[0])
	}
	diss := d.ChemGroupPhaseAve(c, false, PhaseDissolved)
	part := d.ChemGroupPhaseAve(c, false, PhaseParticulate)
	if math.Abs(diss[0]+part[0]-1) > 1e-9 {
		t.Errorf("dissolved %g + particulate %g != 1", diss[0], part[0])
	}
	mobile := d.ChemGroupPhaseAve(c, false, PhaseMobile)
	if math.Abs(mobile[0]-diss[0]) > 1e-12 {
		t.Errorf("mobile %g != dissolved %g with no DOC binding", mobile[0], diss[0])
	}
}

// The outputter emits time series and numbered grids on schedule, and
// the end-of-run products.
func TestOutputter(t *testing.T) {
	dir := t.TempDir()
	d := newPondDomain(1, 1)
	d.RainGauges = []*TimeFunc{constantRain(0.050/3600., 1)}

	o, err := NewOutputter(dir, "grid_", []*Station{{Name: "outlet", Row: 1, Col: 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	o.Schedules([]float64{0.25}, []float64{d.TEnd}, []float64{0.5}, []float64{d.TEnd})

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(o.Output()); err != nil {
		t.Fatal(err)
	}
	if err := o.Finalize(d, false); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"water.csv", "solids_solids.csv", "chems_chems.csv",
		"massbalance.txt", "summary.txt", "dump.txt",
		"elevation_change.asc",
		"gross_erosion_solids.asc", "gross_deposition_solids.asc",
		"net_accumulation_solids.asc",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s", name)
		}
	}
	grids, _ := filepath.Glob(filepath.Join(dir, "grid_depth*.asc"))
	if len(grids) < 2 {
		t.Errorf("found %d numbered depth grids, want at least 2", len(grids))
	}

	b, err := os.ReadFile(filepath.Join(dir, "water.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) < 3 {
		t.Fatalf("water.csv has %d lines, want header plus several rows", len(lines))
	}
	if !strings.Contains(lines[0], "outlet_depth_m") {
		t.Errorf("water.csv header = %q", lines[0])
	}
}

func TestWriteErrorFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "error.txt")
	se := &SimulationError{
		Code: ErrNegativeDepthOverland, Time: 1.5, Dt: 10,
		Row: 3, Col: 4, Index: -1, Value: -0.01,
	}
	if err := WriteErrorFile(path, se); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{"1.5", "row: 3", "column: 4", "aborted"} {
		if !strings.Contains(out, want) {
			t.Errorf("error file missing %q:\n%s", want, out)
		}
	}
}
