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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/floats"
)

// GridSpec is the georeferencing header of an ESRI ASCII grid.
type GridSpec struct {
	Ncols, Nrows int
	Xll, Yll     float64
	CellSize     float64
	Nodata       float64
}

// gridSpec returns the master grid's header.
func (d *TREX) gridSpec() GridSpec {
	return GridSpec{
		Ncols: d.NCols, Nrows: d.NRows,
		Xll: d.Xll, Yll: d.Yll,
		CellSize: d.CellSize, Nodata: d.Nodata,
	}
}

// Location returns the georeferenced center of the station's cell.
func (s *Station) Location(d *TREX) geom.Point {
	row, col := s.Row, s.Col
	if s.Link > 0 && s.Link <= len(d.Links) &&
		s.Node >= 1 && s.Node <= len(d.Links[s.Link-1].Nodes) {
		c := d.Links[s.Link-1].Nodes[s.Node-1].Cell
		row, col = c.Row, c.Col
	}
	return geom.Point{
		X: d.Xll + (float64(col)-0.5)*d.CellSize,
		Y: d.Yll + (float64(d.NRows-row)+0.5)*d.CellSize,
	}
}

// checkGrid validates an auxiliary grid header against the master
// grid. A mismatch is fatal.
func (d *TREX) checkGrid(spec GridSpec, fname string) error {
	m := d.gridSpec()
	if spec.Ncols != m.Ncols || spec.Nrows != m.Nrows ||
		spec.CellSize != m.CellSize || spec.Nodata != m.Nodata {
		return &SimulationError{
			Code: ErrGridMismatch, Time: d.SimTime, Dt: d.Dt,
			Index: -1, Value: float64(spec.Nrows * spec.Ncols),
			Limit: float64(m.Nrows * m.Ncols),
		}
	}
	return nil
}

// ReadGrid reads an ESRI ASCII grid: six header lines followed by
// nrows × ncols whitespace-separated values in row-major order with
// the north row first.
func ReadGrid(r io.Reader) (*sparse.DenseArray, GridSpec, error) {
	var spec GridSpec
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	readToken := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return scanner.Text(), nil
	}
	readHeader := func(key string) (float64, error) {
		tok, err := readToken()
		if err != nil {
			return 0, err
		}
		if !strings.EqualFold(tok, key) {
			return 0, fmt.Errorf("trex: ESRI grid: expected header %q, got %q", key, tok)
		}
		val, err := readToken()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(val, 64)
	}

	var err error
	var v float64
	if v, err = readHeader("ncols"); err != nil {
		return nil, spec, err
	}
	spec.Ncols = int(v)
	if v, err = readHeader("nrows"); err != nil {
		return nil, spec, err
	}
	spec.Nrows = int(v)
	if spec.Xll, err = readHeader("xllcorner"); err != nil {
		return nil, spec, err
	}
	if spec.Yll, err = readHeader("yllcorner"); err != nil {
		return nil, spec, err
	}
	if spec.CellSize, err = readHeader("cellsize"); err != nil {
		return nil, spec, err
	}
	if spec.Nodata, err = readHeader("NODATA_value"); err != nil {
		return nil, spec, err
	}

	data := sparse.ZerosDense(spec.Nrows, spec.Ncols)
	for i := 0; i < spec.Nrows*spec.Ncols; i++ {
		tok, err := readToken()
		if err != nil {
			return nil, spec, fmt.Errorf("trex: ESRI grid: %d of %d values: %v",
				i, spec.Nrows*spec.Ncols, err)
		}
		val, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, spec, fmt.Errorf("trex: ESRI grid: value %d: %v", i, err)
		}
		data.Elements[i] = val
	}
	return data, spec, nil
}

// WriteGrid writes data as an ESRI ASCII grid.
func WriteGrid(w io.Writer, spec GridSpec, data *sparse.DenseArray) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", spec.Ncols)
	fmt.Fprintf(bw, "nrows %d\n", spec.Nrows)
	fmt.Fprintf(bw, "xllcorner %g\n", spec.Xll)
	fmt.Fprintf(bw, "yllcorner %g\n", spec.Yll)
	fmt.Fprintf(bw, "cellsize %g\n", spec.CellSize)
	fmt.Fprintf(bw, "NODATA_value %g\n", spec.Nodata)
	for r := 0; r < spec.Nrows; r++ {
		for c := 0; c < spec.Ncols; c++ {
			if c > 0 {
				fmt.Fprint(bw, " ")
			}
			fmt.Fprintf(bw, "%g", data.Get(r, c))
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// Chemical phase selectors for reporting.
const (
	PhaseTotal = iota
	PhaseDissolved
	PhaseBound
	PhaseMobile
	PhaseParticulate
)

// ChemGroupPhaseAve computes the average phase fraction of each
// chemical reporting group at one cell, for the water column (bed ==
// false) or the surface soil/sediment layer (bed == true). The cell's
// channel node is used when the cell contains one.
func (d *TREX) ChemGroupPhaseAve(c *Cell, bed bool, phase int) []float64 {
	ngroups := len(d.ChemGroups)
	ave := make([]float64, ngroups)
	fraction := make([]float64, ngroups)
	total := make([]float64, ngroups)

	w := &c.Column
	if c.Node != nil {
		w = &c.Node.Column
	}
	var fd, fb []float64
	var fp [][]float64
	var conc []float64
	if bed {
		if w.Stack == nil {
			return ave
		}
		surf := w.Stack.Surface()
		fd, fb, fp, conc = surf.Fd, surf.Fb, surf.Fp, surf.Cchem
	} else {
		fd, fb, fp, conc = w.Fd, w.Fb, w.Fp, w.Cchem
	}

	for i, ch := range d.Chems {
		g := ch.Group
		switch phase {
		case PhaseDissolved:
			fraction[g] += fd[i] * conc[i]
		case PhaseBound:
			fraction[g] += fb[i] * conc[i]
		case PhaseMobile:
			fraction[g] += (fd[i] + fb[i]) * conc[i]
		case PhaseParticulate:
			for s := range d.Solids {
				fraction[g] += fp[i][s] * conc[i]
			}
		default:
			fraction[g] += conc[i]
		}
		total[g] += conc[i]
	}
	for g := range ave {
		if total[g] > 0 {
			ave[g] = fraction[g] / total[g]
		}
	}
	return ave
}

// BedChemMgKg converts a bed chemical concentration from g/m³ of bulk
// layer volume to mg of chemical per kg of dry solids.
func BedChemMgKg(cchem float64, csol []float64) float64 {
	total := floats.Sum(csol)
	if total <= 0 {
		return 0
	}
	return cchem / total * 1e6
}

// Station is one reporting location for the tabular time series.
type Station struct {
	Name       string
	Row, Col   int
	Link, Node int
	P          geom.Point // georeferenced location
}

// printSchedule is a piecewise-constant output interval sequence:
// intervals[i] applies until sim time passes times[i] hours.
type printSchedule struct {
	intervals, times []float64
	idx              int
	next             float64
	started          bool
}

// due reports whether an output event falls at or before time t, and
// advances the schedule past it.
func (s *printSchedule) due(t float64) bool {
	if len(s.intervals) == 0 {
		return false
	}
	if !s.started {
		s.started = true
		s.next = t // emit at the first step
	}
	if t < s.next {
		return false
	}
	for s.idx < len(s.times)-1 && t >= s.times[s.idx] {
		s.idx++
	}
	s.next += s.intervals[s.idx]
	return true
}

// Outputter emits tabular time series and numbered grids on their own
// schedules, and the end-of-run products: net-change grids, the
// mass-balance ledger, the summary file, and the dump file.
type Outputter struct {
	Dir      string // output directory
	GridRoot string // file name root for numbered grids
	GridExt  string // numbered grid extension

	Stations []*Station

	tabular printSchedule
	grids   printSchedule

	// Derived output expressions evaluated against the built-in
	// output variables.
	expressions map[string]*govaluate.EvaluableExpression

	seq        int
	elev0      []float64 // initial surface elevations by cell
	dtStats    stats.Stats
	files      map[string]*os.File
	havePeakC  [][]float64 // peak water-column group concentration per station
	peakCTimes [][]float64
}

// NewOutputter creates an Outputter writing into dir. expressions maps
// derived output names to govaluate expressions over the built-in
// variables "depth" and "discharge"; group concentrations are not
// available to expressions.
func NewOutputter(dir, gridRoot string, stations []*Station, expressions map[string]string) (*Outputter, error) {
	o := &Outputter{
		Dir:      dir,
		GridRoot: gridRoot,
		GridExt:  "asc",
		Stations: stations,
		files:    make(map[string]*os.File),
	}
	if len(expressions) > 0 {
		o.expressions = make(map[string]*govaluate.EvaluableExpression)
		for name, exprStr := range expressions {
			expr, err := govaluate.NewEvaluableExpression(exprStr)
			if err != nil {
				return nil, fmt.Errorf("trex: output expression %s: %v", name, err)
			}
			o.expressions[name] = expr
		}
	}
	return o, nil
}

// Schedules configures the tabular and grid print schedules, each a
// piecewise-constant interval sequence.
func (o *Outputter) Schedules(tabIntervals, tabTimes, gridIntervals, gridTimes []float64) {
	o.tabular = printSchedule{intervals: tabIntervals, times: tabTimes}
	o.grids = printSchedule{intervals: gridIntervals, times: gridTimes}
}

// Output returns the manipulator that runs the output schedules each
// step.
func (o *Outputter) Output() DomainManipulator {
	return func(d *TREX) error {
		if o.elev0 == nil {
			o.elev0 = make([]float64, len(d.Cells))
			for i, c := range d.Cells {
				o.elev0[i] = c.Elevation
			}
			for _, s := range o.Stations {
				s.P = s.Location(d)
			}
			o.havePeakC = make([][]float64, len(o.Stations))
			o.peakCTimes = make([][]float64, len(o.Stations))
			for i := range o.Stations {
				ng := len(d.SolidGroups) + len(d.ChemGroups)
				o.havePeakC[i] = make([]float64, ng)
				o.peakCTimes[i] = make([]float64, ng)
			}
		}
		o.dtStats.Update(d.Dt)
		o.trackPeaks(d)

		if o.tabular.due(d.SimTime) {
			if err := o.writeTimeSeries(d); err != nil {
				return err
			}
			if err := o.writeDump(d); err != nil {
				return err
			}
		}
		if o.grids.due(d.SimTime) {
			if err := o.writeGrids(d); err != nil {
				return err
			}
		}
		return nil
	}
}

// stationColumn resolves a station to its water column.
func (d *TREX) stationColumn(s *Station) *Column {
	if s.Link > 0 {
		if s.Link <= len(d.Links) && s.Node >= 1 && s.Node <= len(d.Links[s.Link-1].Nodes) {
			return &d.Links[s.Link-1].Nodes[s.Node-1].Column
		}
		return nil
	}
	if c := d.CellAt(s.Row, s.Col); c != nil {
		return &c.Column
	}
	return nil
}

func (d *TREX) stationDischarge(s *Station) float64 {
	w := d.stationColumn(s)
	if w == nil {
		return 0
	}
	var q float64
	for src := 0; src < NSources; src++ {
		q += w.FlowOut[src]
	}
	return q
}

func (o *Outputter) trackPeaks(d *TREX) {
	for si, s := range o.Stations {
		w := d.stationColumn(s)
		if w == nil {
			continue
		}
		gi := 0
		for g := range d.SolidGroups {
			var c float64
			for i, f := range d.Solids {
				if f.Group == g {
					c += w.Csol[i]
				}
			}
			if c > o.havePeakC[si][gi] {
				o.havePeakC[si][gi] = c
				o.peakCTimes[si][gi] = d.SimTime
			}
			gi++
		}
		for g := range d.ChemGroups {
			var c float64
			for i, ch := range d.Chems {
				if ch.Group == g {
					c += w.Cchem[i]
				}
			}
			if c > o.havePeakC[si][gi] {
				o.havePeakC[si][gi] = c
				o.peakCTimes[si][gi] = d.SimTime
			}
			gi++
		}
	}
}

// file returns (opening if needed) the named output file with a
// header line written on creation.
func (o *Outputter) file(name, header string) (*os.File, error) {
	if f, ok := o.files[name]; ok {
		return f, nil
	}
	f, err := os.Create(filepath.Join(o.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("trex: opening output file: %v", err)
	}
	if header != "" {
		fmt.Fprintln(f, header)
	}
	o.files[name] = f
	return f, nil
}

func (o *Outputter) writeTimeSeries(d *TREX) error {
	// Water: depth and discharge per station.
	hdr := "time_h"
	for _, s := range o.Stations {
		hdr += fmt.Sprintf(",%s_depth_m,%s_discharge_m3s", s.Name, s.Name)
	}
	f, err := o.file("water.csv", hdr)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "%g", d.SimTime)
	for _, s := range o.Stations {
		w := d.stationColumn(s)
		if w == nil {
			fmt.Fprint(f, ",,")
			continue
		}
		fmt.Fprintf(f, ",%g,%g", w.Depth, d.stationDischarge(s))
	}
	fmt.Fprintln(f)

	// Solids and chemical group concentrations per station.
	if d.SimulateSol {
		for g, gname := range d.SolidGroups {
			hdr := "time_h"
			for _, s := range o.Stations {
				hdr += "," + s.Name + "_gm3"
			}
			f, err := o.file("solids_"+gname+".csv", hdr)
			if err != nil {
				return err
			}
			fmt.Fprintf(f, "%g", d.SimTime)
			for _, s := range o.Stations {
				w := d.stationColumn(s)
				var c float64
				if w != nil {
					for i, fr := range d.Solids {
						if fr.Group == g {
							c += w.Csol[i]
						}
					}
				}
				fmt.Fprintf(f, ",%g", c)
			}
			fmt.Fprintln(f)
		}
	}
	if d.SimulateChem {
		for g, gname := range d.ChemGroups {
			hdr := "time_h"
			for _, s := range o.Stations {
				hdr += "," + s.Name + "_gm3"
			}
			f, err := o.file("chems_"+gname+".csv", hdr)
			if err != nil {
				return err
			}
			fmt.Fprintf(f, "%g", d.SimTime)
			for _, s := range o.Stations {
				w := d.stationColumn(s)
				var c float64
				if w != nil {
					for i, ch := range d.Chems {
						if ch.Group == g {
							c += w.Cchem[i]
						}
					}
				}
				fmt.Fprintf(f, ",%g", c)
			}
			fmt.Fprintln(f)
		}
	}

	// Derived expressions.
	for name, expr := range o.expressions {
		hdr := "time_h"
		for _, s := range o.Stations {
			hdr += "," + s.Name
		}
		f, err := o.file("expr_"+name+".csv", hdr)
		if err != nil {
			return err
		}
		fmt.Fprintf(f, "%g", d.SimTime)
		for _, s := range o.Stations {
			w := d.stationColumn(s)
			params := map[string]interface{}{"depth": 0.0, "discharge": 0.0}
			if w != nil {
				params["depth"] = w.Depth
				params["discharge"] = d.stationDischarge(s)
			}
			v, err := expr.Evaluate(params)
			if err != nil {
				return fmt.Errorf("trex: output expression %s: %v", name, err)
			}
			fmt.Fprintf(f, ",%v", v)
		}
		fmt.Fprintln(f)
	}
	return nil
}

// writeDump appends the detailed per-cell state to the dump file.
func (o *Outputter) writeDump(d *TREX) error {
	f, err := o.file("dump.txt", "")
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "time = %g h  dt = %g s\n", d.SimTime, d.Dt)
	for _, c := range d.Cells {
		fmt.Fprintf(f, "  cell (%d,%d): depth = %.6g m", c.Row, c.Col, c.Depth)
		if c.Stack != nil {
			fmt.Fprintf(f, "  nstack = %d", c.Stack.N)
		}
		fmt.Fprintln(f)
	}
	return nil
}

// writeGrids emits one numbered grid per reported variable.
func (o *Outputter) writeGrids(d *TREX) error {
	o.seq++
	spec := d.gridSpec()

	write := func(root string, value func(c *Cell) float64) error {
		data := sparse.ZerosDense(d.NRows, d.NCols)
		for i := range data.Elements {
			data.Elements[i] = d.Nodata
		}
		for _, c := range d.Cells {
			data.Set(value(c), c.Row-1, c.Col-1)
		}
		name := fmt.Sprintf("%s%s%d.%s", o.GridRoot, root, o.seq, o.GridExt)
		f, err := os.Create(filepath.Join(o.Dir, name))
		if err != nil {
			return fmt.Errorf("trex: writing grid: %v", err)
		}
		defer f.Close()
		return WriteGrid(f, spec, data)
	}

	if err := write("depth", func(c *Cell) float64 { return c.Depth }); err != nil {
		return err
	}
	if d.SimulateSol {
		for g, gname := range d.SolidGroups {
			g := g
			err := write("solids_"+gname, func(c *Cell) float64 {
				var v float64
				for i, fr := range d.Solids {
					if fr.Group == g {
						v += c.Csol[i]
					}
				}
				return v
			})
			if err != nil {
				return err
			}
		}
	}
	if d.SimulateChem {
		for g, gname := range d.ChemGroups {
			g := g
			err := write("chems_"+gname, func(c *Cell) float64 {
				var v float64
				for i, ch := range d.Chems {
					if ch.Group == g {
						v += c.Cchem[i]
					}
				}
				return v
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Finalize writes the end-of-run products: net-change grids, the
// mass-balance ledger, the summary file, and optional restart grids.
// It is skipped when the run aborts on a fatal simulation error.
func (o *Outputter) Finalize(d *TREX, writeRestart bool) error {
	defer o.closeFiles()

	if o.elev0 == nil { // no output event ever fired
		o.elev0 = make([]float64, len(d.Cells))
		for i, c := range d.Cells {
			o.elev0[i] = c.Elevation
		}
	}

	spec := d.gridSpec()
	writeGrid := func(name string, value func(c *Cell) float64) error {
		data := sparse.ZerosDense(d.NRows, d.NCols)
		for i := range data.Elements {
			data.Elements[i] = d.Nodata
		}
		for _, c := range d.Cells {
			data.Set(value(c), c.Row-1, c.Col-1)
		}
		f, err := os.Create(filepath.Join(o.Dir, name))
		if err != nil {
			return fmt.Errorf("trex: writing end grid: %v", err)
		}
		defer f.Close()
		return WriteGrid(f, spec, data)
	}

	// Net-change grids.
	if err := writeGrid("elevation_change.asc", func(c *Cell) float64 {
		if c.Stack == nil {
			return 0
		}
		return c.Stack.SurfaceElevation() - o.elev0[c.Num]
	}); err != nil {
		return err
	}
	if d.SimulateSol {
		for g, gname := range d.SolidGroups {
			g := g
			err := writeGrid("gross_erosion_"+gname+".asc", func(c *Cell) float64 {
				return groupErosion(d, c, g, true)
			})
			if err != nil {
				return err
			}
			err = writeGrid("gross_deposition_"+gname+".asc", func(c *Cell) float64 {
				return groupErosion(d, c, g, false)
			})
			if err != nil {
				return err
			}
			err = writeGrid("net_accumulation_"+gname+".asc", func(c *Cell) float64 {
				return groupErosion(d, c, g, false) - groupErosion(d, c, g, true)
			})
			if err != nil {
				return err
			}
		}
	}

	// Mass-balance ledger.
	d.Ledger.Close()
	mb, err := os.Create(filepath.Join(o.Dir, "massbalance.txt"))
	if err != nil {
		return fmt.Errorf("trex: writing mass balance: %v", err)
	}
	if err := d.Ledger.WriteLedger(mb); err != nil {
		mb.Close()
		return err
	}
	mb.Close()

	if err := o.writeSummary(d); err != nil {
		return err
	}

	if writeRestart {
		if err := d.WriteRestartGrids(o.Dir); err != nil {
			return err
		}
	}
	return nil
}

// groupErosion sums the cumulative eroded (or deposited) mass of a
// reporting group over the column's stack surface history (kg).
func groupErosion(d *TREX, c *Cell, group int, erosion bool) float64 {
	w := &c.Column
	if c.Node != nil {
		w = &c.Node.Column
	}
	if w.Stack == nil {
		return 0
	}
	var total float64
	for k := 0; k < w.Stack.N; k++ {
		ly := &w.Stack.Layers[k]
		for i, f := range d.Solids {
			if f.Group != group {
				continue
			}
			if erosion {
				total += ly.SolAcc[i][ProcErosion].OutMass
			} else {
				total += ly.SolAcc[i][ProcDeposition].InMass
			}
		}
	}
	return total
}

// writeSummary emits peak discharges and concentrations with their
// times of occurrence, and run statistics.
func (o *Outputter) writeSummary(d *TREX) error {
	f, err := os.Create(filepath.Join(o.Dir, "summary.txt"))
	if err != nil {
		return fmt.Errorf("trex: writing summary: %v", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "TREX simulation summary\n\n")
	fmt.Fprintf(f, "simulation time: %g to %g h\n", d.TStart, d.TEnd)
	if o.dtStats.Count() > 0 {
		fmt.Fprintf(f, "time step: n = %d  min = %.3g s  max = %.3g s  mean = %.3g s\n",
			o.dtStats.Count(), o.dtStats.Min(), o.dtStats.Max(), o.dtStats.Mean())
	}
	fmt.Fprintln(f)
	for _, out := range d.Outlets {
		loc := fmt.Sprintf("outlet (%d,%d)", out.Row, out.Col)
		if out.Link > 0 {
			loc = fmt.Sprintf("outlet link %d node %d", out.Link, out.Node)
		}
		fmt.Fprintf(f, "%s: peak discharge = %v at %.4g h\n",
			loc, unit.New(out.PeakFlow, unit.Meter3PerSecond), out.PeakTime)
	}
	if o.havePeakC == nil {
		return nil
	}
	for si, s := range o.Stations {
		gi := 0
		for _, gname := range d.SolidGroups {
			fmt.Fprintf(f, "station %s: peak %s = %.6g g/m³ at %.4g h\n",
				s.Name, gname, o.havePeakC[si][gi], o.peakCTimes[si][gi])
			gi++
		}
		for _, gname := range d.ChemGroups {
			fmt.Fprintf(f, "station %s: peak %s = %.6g g/m³ at %.4g h\n",
				s.Name, gname, o.havePeakC[si][gi], o.peakCTimes[si][gi])
			gi++
		}
	}
	return nil
}

func (o *Outputter) closeFiles() {
	for _, f := range o.files {
		f.Close()
	}
	o.files = make(map[string]*os.File)
}

// WriteErrorFile writes the diagnostic for a fatal error to the
// simulation-error file at path.
func WriteErrorFile(path string, err error) error {
	f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if ferr != nil {
		return ferr
	}
	defer f.Close()
	if se, ok := err.(*SimulationError); ok {
		se.WriteDiagnostic(f)
	} else {
		fmt.Fprintf(f, "\nSimulation Errors Encountered!!!\n\n%v\n", err)
	}
	return nil
}
