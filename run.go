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
	"fmt"
	"io"
	"time"
)

// DomainManipulator is a function that operates on the entire model
// domain, typically appended to the per-step pipeline for output and
// logging.
type DomainManipulator func(d *TREX) error

// CellManipulator is a function that operates on a single grid cell.
type CellManipulator func(c *Cell, Δt float64)

// Init wires the domain together and captures the initial state for
// mass-balance accounting. It must be called once before Run.
func (d *TREX) Init() error {
	if err := d.init(); err != nil {
		return err
	}
	if err := d.compileUserExpressions(); err != nil {
		return err
	}
	return nil
}

// CaptureInitialState re-captures the stored-mass baseline for the
// mass-balance ledger. Call after applying initial-condition overrides
// on an initialized domain.
func (d *TREX) CaptureInitialState() {
	d.Ledger = newMassLedger(d)
}

// Run advances the simulation until the clock reaches TEnd, executing
// the fixed stage pipeline each step followed by the given
// manipulators (output schedules, logging). On a fatal simulation
// error the run stops immediately and the error is returned; the
// caller writes the diagnostic and suppresses final output.
func (d *TREX) Run(manipulators ...DomainManipulator) error {
	for !d.Done {
		if err := d.Step(); err != nil {
			return err
		}
		for _, m := range manipulators {
			if err := m(d); err != nil {
				return err
			}
		}
	}
	d.Ledger.Close()
	return nil
}

// Step executes one iteration of the coupled pipeline: time functions
// and environment, water transport and balance, solids transport and
// balance, chemical transport and balance, state advance, and stack
// re-indexing. Within the step, every transport stage reads the
// current buffers and writes the new buffers only.
func (d *TREX) Step() error {
	if err := d.setDt(); err != nil {
		return err
	}

	d.Env.update()

	d.waterTransport()
	if err := d.waterBalance(); err != nil {
		return err
	}

	if d.SimulateSol {
		d.solidsTransport()
		if err := d.solidsBalance(); err != nil {
			return err
		}
	}

	if d.SimulateChem {
		if err := d.chemicalTransport(); err != nil {
			return err
		}
		if err := d.chemicalBalance(); err != nil {
			return err
		}
	}

	d.advanceState()

	// Re-indexing mutates layer indices and must complete for the
	// whole domain before the next step starts.
	if d.SimulateSol {
		if err := d.reindexStacks(); err != nil {
			return err
		}
	}

	d.SimTime += d.Dt / 3600.
	d.step++
	// The epsilon keeps accumulated float error in the clock from
	// running one extra step.
	if d.SimTime >= d.TEnd-1e-9 {
		d.Done = true
	}
	return nil
}

// advanceState copies the t+Δt buffers into the t buffers, folds the
// step's gross rates into the cumulative mass totals, and updates the
// surface layer geometry.
func (d *TREX) advanceState() {
	advance := func(w *Column) {
		w.Depth = w.DepthNew
		copy(w.Csol, w.CsolNew)
		copy(w.Cchem, w.CchemNew)
		for i := range w.SolAcc {
			for p := range w.SolAcc[i] {
				w.SolAcc[i][p].accumulate(d.Dt)
			}
			w.SolAdv[i].accumulate(d.Dt)
			w.SolDsp[i].accumulate(d.Dt)
		}
		for i := range w.ChemAcc {
			for p := range w.ChemAcc[i] {
				w.ChemAcc[i][p].accumulate(d.Dt)
			}
			w.ChemAdv[i].accumulate(d.Dt)
			w.ChemDsp[i].accumulate(d.Dt)
		}
		if w.Stack != nil {
			for k := 0; k < w.Stack.N; k++ {
				ly := &w.Stack.Layers[k]
				ly.Volume = ly.VolumeNew
				copy(ly.Csol, ly.CsolNew)
				copy(ly.Cchem, ly.CchemNew)
				for i := range ly.SolAcc {
					for p := range ly.SolAcc[i] {
						ly.SolAcc[i][p].accumulate(d.Dt)
					}
				}
				for i := range ly.ChemAcc {
					for p := range ly.ChemAcc[i] {
						ly.ChemAcc[i][p].accumulate(d.Dt)
					}
				}
			}
			// Deposition and erosion change the surface layer
			// volume; keep its thickness and interface elevation
			// consistent.
			surf := w.Stack.Surface()
			if surf.Area > 0 {
				surf.Thickness = surf.Volume / surf.Area
				surf.Elevation = w.Stack.elevationBelow(w.Stack.N-1) + surf.Thickness
			}
		}
	}

	for _, c := range d.Cells {
		advance(&c.Column)
		c.SWE = c.SWENew
	}
	d.eachNode(func(n *ChannelNode) { advance(&n.Column) })
}

// Calculations returns a manipulator that runs a series of per-cell
// calculations over the whole grid. The simulation loop is
// single-threaded and cooperative; iteration order is immaterial
// because fluxes depend only on current-buffer state.
func Calculations(calculators ...CellManipulator) DomainManipulator {
	return func(d *TREX) error {
		for _, c := range d.Cells {
			for _, f := range calculators {
				f(c, d.Dt)
			}
		}
		return nil
	}
}

const daysPerSecond = 1. / 3600. / 24.

// Log returns a manipulator that writes simulation status messages
// to w.
func Log(w io.Writer) DomainManipulator {
	startTime := time.Now()
	timeStepTime := time.Now()
	iteration := 0
	nDaysRun := 0.

	return func(d *TREX) error {
		iteration++
		nDaysRun += d.Dt * daysPerSecond
		fmt.Fprintf(w, "Iteration %-4d  walltime=%6.3gh  Δwalltime=%4.2gs  "+
			"timestep=%2.0fs  day=%.3g\n",
			iteration, time.Since(startTime).Hours(),
			time.Since(timeStepTime).Seconds(), d.Dt, nDaysRun)
		timeStepTime = time.Now()
		return nil
	}
}

// RunRelaunch runs the full simulation once in hydraulics-only mode to
// record a stable Δt trace, rewinds the domain to its initial state,
// and reruns with all processes enabled against the recorded trace.
// relax, dtMax, and dtMin configure the recording run's automatic
// controller.
func (d *TREX) RunRelaunch(relax, dtMax, dtMin float64, manipulators ...DomainManipulator) error {
	var snapshot bytes.Buffer
	if err := d.Save(&snapshot); err != nil {
		return fmt.Errorf("trex: relaunch snapshot: %v", err)
	}

	sol, chem := d.SimulateSol, d.SimulateChem
	d.SimulateSol, d.SimulateChem = false, false
	d.DtAuto(relax, dtMax, dtMin)
	if err := d.Run(); err != nil {
		return fmt.Errorf("trex: relaunch recording run: %v", err)
	}
	trace := d.DtTrace()

	if err := d.Load(&snapshot); err != nil {
		return fmt.Errorf("trex: relaunch rewind: %v", err)
	}
	d.SimulateSol, d.SimulateChem = sol, chem
	d.DtReplay(trace)
	return d.Run(manipulators...)
}
