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

package trexutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trexsim/trex"
)

// Version is the TREX version.
const Version = "0.1.0"

// Root is the root command.
var Root = &cobra.Command{
	Use:   "trex",
	Short: "TREX is a watershed hydrology, sediment, and chemical transport simulator.",
	Long: `TREX simulates surface-water hydrology coupled with multi-fraction
solids transport and multi-species chemical fate and transport over a
raster watershed with an embedded channel network.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TREX v%s\n", Version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <config-file> [restart0|restart1|restart2]",
	Short: "Run a simulation",
	Long: `run executes the simulation described by the configuration file.
The optional restart argument selects the restart mode: restart0 reads
no restart files and writes them at the end of the run; restart1 reads
soil/sediment initial conditions; restart2 reads the full state
including surface water. With no restart argument, no restart files
are read or written.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := -1
		if len(args) == 2 {
			switch args[1] {
			case "restart0":
				mode = trex.RestartNone
			case "restart1":
				mode = trex.RestartBed
			case "restart2":
				mode = trex.RestartFull
			default:
				return fmt.Errorf("trexutil: unknown restart mode %q", args[1])
			}
		}
		return RunSimulation(args[0], mode)
	},
}

func init() {
	Root.AddCommand(versionCmd, runCmd)
}

// RunSimulation loads the configuration, builds and runs the domain,
// and writes the final outputs. A fatal simulation error is written to
// the simulation-error file and suppresses all final output except
// that file.
func RunSimulation(configFile string, restartMode int) error {
	log := logrus.StandardLogger()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, os.ModePerm); err != nil {
		return err
	}
	errorFile := filepath.Join(cfg.OutputDir, "error.txt")

	d, o, err := cfg.BuildDomain()
	if err != nil {
		trex.WriteErrorFile(errorFile, err)
		return err
	}

	if restartMode == trex.RestartBed || restartMode == trex.RestartFull {
		if err := d.ReadRestartGrids(cfg.OutputDir, restartMode); err != nil {
			trex.WriteErrorFile(errorFile, err)
			return err
		}
		log.Infof("restored restart state (mode %d)", restartMode)
	}

	switch cfg.DtMode {
	case "auto":
		d.DtAuto(cfg.DtRelax, cfg.DtMax, cfg.DtMin)
	case "replay":
		trace, err := readDtTrace(cfg.DtTraceFile)
		if err != nil {
			return err
		}
		d.DtReplay(trace)
	case "relaunch":
		// The recording run reconfigures the controller; this covers
		// a relaunch request with no solids or chemical processes.
		d.DtAuto(cfg.DtRelax, cfg.DtMax, cfg.DtMin)
	default:
		d.DtSchedule(cfg.Dts, cfg.DtTimes)
	}

	log.Infof("starting simulation: %g to %g h, %d cells, %d links",
		d.TStart, d.TEnd, len(d.Cells), len(d.Links))

	manipulators := []trex.DomainManipulator{
		o.Output(),
		trex.Log(os.Stdout),
	}
	if cfg.DtMode == "relaunch" && (d.SimulateSol || d.SimulateChem) {
		err = d.RunRelaunch(cfg.DtRelax, cfg.DtMax, cfg.DtMin, manipulators...)
	} else {
		err = d.Run(manipulators...)
	}
	if err != nil {
		trex.WriteErrorFile(errorFile, err)
		log.Errorf("simulation aborted: %v", err)
		return err
	}
	if cfg.DtMode == "auto" || cfg.DtMode == "relaunch" {
		if cfg.DtTraceFile != "" {
			if err := writeDtTrace(cfg.DtTraceFile, d.DtTrace()); err != nil {
				return err
			}
		}
	}

	if err := o.Finalize(d, restartMode == trex.RestartNone); err != nil {
		trex.WriteErrorFile(errorFile, err)
		return err
	}
	log.Info("simulation completed")
	return nil
}

// readDtTrace reads a recorded Δt trace: (time, dt) pairs, one per
// line.
func readDtTrace(path string) ([]trex.DtPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trexutil: opening Δt trace: %v", err)
	}
	defer f.Close()
	var trace []trex.DtPair
	for {
		var p trex.DtPair
		_, err := fmt.Fscan(f, &p.Time, &p.Dt)
		if err != nil {
			break
		}
		trace = append(trace, p)
	}
	if len(trace) == 0 {
		return nil, fmt.Errorf("trexutil: Δt trace %s is empty", path)
	}
	return trace, nil
}

func writeDtTrace(path string, trace []trex.DtPair) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trexutil: writing Δt trace: %v", err)
	}
	defer f.Close()
	for _, p := range trace {
		fmt.Fprintf(f, "%g %g\n", p.Time, p.Dt)
	}
	return nil
}
