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
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testMask = `ncols 1
nrows 1
xllcorner 0
yllcorner 0
cellsize 100
NODATA_value -9999
1
`

const testElev = `ncols 1
nrows 1
xllcorner 0
yllcorner 0
cellsize 100
NODATA_value -9999
0
`

const testConfig = `tstart = 0.0
tend = 0.5
latitude = 40.0
tzero = 180.0
dtmode = "schedule"
dts = [10.0]
dttimes = [0.5]
maskfile = "mask.asc"
elevationfile = "elev.asc"
cellsize = 100.0
nodata = -9999.0
outputdir = "out"
gridroot = "g_"
tabintervals = [0.25]
tabtimes = [0.5]

[[lands]]
name = "grass"
manningn = 0.05

[[rainseries]]
name = "gauge"
times = [0.0, 1.0]
values = [1.389e-5, 1.389e-5]
scale = 1.0

[[stations]]
name = "outlet"
row = 1
col = 1
`

func writeTestInputs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"mask.asc":    testMask,
		"elev.asc":    testElev,
		"config.toml": testConfig,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadConfigAndRun(t *testing.T) {
	dir := writeTestInputs(t)
	cfg, err := LoadConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TEnd != 0.5 {
		t.Errorf("tend = %g, want 0.5", cfg.TEnd)
	}
	if cfg.OutputDir != filepath.Join(dir, "out") {
		t.Errorf("output dir = %q", cfg.OutputDir)
	}
	if err := os.MkdirAll(cfg.OutputDir, os.ModePerm); err != nil {
		t.Fatal(err)
	}

	d, o, err := cfg.BuildDomain()
	if err != nil {
		t.Fatal(err)
	}
	if d.NRows != 1 || d.NCols != 1 || len(d.Cells) != 1 {
		t.Fatalf("domain: %d×%d with %d cells", d.NRows, d.NCols, len(d.Cells))
	}
	if d.Cells[0].LandUse == nil || d.Cells[0].LandUse.ManningN != 0.05 {
		t.Error("land use was not assigned")
	}

	d.DtSchedule(cfg.Dts, cfg.DtTimes)
	if err := d.Run(o.Output()); err != nil {
		t.Fatal(err)
	}
	// Half an hour of 50 mm/h is 25 mm of depth.
	if got := d.Cells[0].Depth; math.Abs(got-0.025) > 1e-4 {
		t.Errorf("final depth = %g m, want about 0.025", got)
	}
	if err := o.Finalize(d, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "water.csv")); err != nil {
		t.Error("missing water.csv")
	}
}

func TestValidation(t *testing.T) {
	cfg := &Config{TStart: 1, TEnd: 0}
	if err := validate(cfg); err == nil {
		t.Error("reversed time span was accepted")
	}

	cfg = &Config{TEnd: 1, SimulateChems: true}
	if err := validate(cfg); err == nil {
		t.Error("chemical simulation with no chemicals was accepted")
	}

	cfg = &Config{TEnd: 1, Yields: []YieldConfig{{Process: "alchemy"}}}
	if err := validate(cfg); err == nil {
		t.Error("unknown yield process was accepted")
	}

	cfg = &Config{TEnd: 1, FpocOv: []FpocConfig{{
		Series: SeriesConfig{Values: []float64{1.5}},
	}}}
	if err := validate(cfg); err == nil {
		t.Error("fpoc outside [0,1] was accepted")
	}

	cfg = &Config{TEnd: 1, EnvGeneral: []PropConfig{{Property: "chakra"}}}
	if err := validate(cfg); err == nil {
		t.Error("unknown environmental property was accepted")
	}
}

func TestGridMismatch(t *testing.T) {
	dir := writeTestInputs(t)
	bad := `ncols 2
nrows 1
xllcorner 0
yllcorner 0
cellsize 100
NODATA_value -9999
0 0
`
	if err := os.WriteFile(filepath.Join(dir, "elev.asc"), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := cfg.BuildDomain(); err == nil {
		t.Error("mismatched elevation grid was accepted")
	}
}
