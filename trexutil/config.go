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

// Package trexutil holds the configuration and command-line interface
// for the TREX watershed simulator.
package trexutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctessum/sparse"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/trexsim/trex"
)

// SolidConfig configures one solids fraction.
type SolidConfig struct {
	Name             string
	Group            int
	Diameter         float64
	SpecificGravity  float64
	SettlingVelocity float64
	Cohesive         bool
	KUSLE            float64
	CUSLE            float64
	PUSLE            float64
	TauCD            float64
	TauCE            float64
	AY               float64
	MExp             float64
	Aging            float64
}

// ChemConfig configures one chemical species.
type ChemConfig struct {
	Name      string
	Group     int
	Partition bool
	Kp        float64
	Koc       float64
	Kb        float64
	BindEff   float64
	NuX       float64

	Biodegrade bool
	Bio2nd     bool
	KBioWater  float64
	KBioBed    float64

	Hydrolyze bool
	KAcid     float64
	KNeutral  float64
	KBase     float64
	HydTheta  float64

	Oxidize bool
	KOxi    float64

	Photolyze bool
	KPht      float64
	RefRad    float64

	Decay bool
	KRad  float64

	Volatilize bool
	Henry      float64
	MolWeight  float64

	Dissolve bool
	KDsl     float64
	CSat     float64
	DslFrom  int

	UserReaction bool
	UserExpr     string
}

// ChannelNodeConfig configures one channel node.
type ChannelNodeConfig struct {
	Row, Col    int
	BottomWidth float64
	BankHeight  float64
	SideSlope   float64
	Length      float64
	ManningN    float64
	Elevation   float64
	Slope       float64
}

// SeriesConfig is one (time, value) forcing series.
type SeriesConfig struct {
	Name   string
	Times  []float64
	Values []float64
	Scale  float64
}

// StationConfig is one reporting station.
type StationConfig struct {
	Name       string
	Row, Col   int
	Link, Node int
}

// Config is the translated run configuration. The legacy Data Group
// A-F input file is parsed by an external collaborator; this is its
// TOML form.
type Config struct {
	// Group A: general controls.
	TStart, TEnd float64
	Latitude     float64
	TZero        float64

	// Time-step control: "schedule", "auto", "replay", or "relaunch".
	DtMode      string
	Dts         []float64
	DtTimes     []float64
	DtRelax     float64
	DtMax       float64
	DtMin       float64
	DtTraceFile string

	// Group B: hydrology.
	MaskFile      string
	ElevationFile string
	SoilFile      string
	LandFile      string
	CellSize      float64
	Nodata        float64
	Infiltration  bool
	Soils         []SolidsSoilConfig
	Lands         []LandConfig
	RainSeries    []SeriesConfig

	// Channels.
	Channels  bool
	TransLoss bool
	Links     [][]ChannelNodeConfig

	// Group C: solids.
	SimulateSolids bool
	Solids         []SolidConfig
	SolidGroups    []string
	MaxStack       int
	CollapseStack  bool
	MinVolFrac     float64
	MaxVolFrac     float64
	SoilLayers     []LayerConfig
	SedimentLayers []LayerConfig
	DispCoef       float64
	AdvScale       float64

	// Group D: chemicals.
	SimulateChems bool
	Chems         []ChemConfig
	ChemGroups    []string
	Yields        []YieldConfig

	// Initial condition grids. The overland chemical IC has its own
	// file, distinct from the soil-chemical IC.
	InitialChemOverlandFile string
	SoilChemICFile          string
	InitialSolidsFile       string

	// Group E: environmental time functions.
	EnvGeneral  []PropConfig
	EnvOverland []PropConfig
	EnvChannel  []PropConfig
	FpocOv      []FpocConfig
	FpocCh      []FpocConfig

	// Group F: outputs.
	OutputDir     string
	GridRoot      string
	TabIntervals  []float64
	TabTimes      []float64
	GridIntervals []float64
	GridTimes     []float64
	Stations      []StationConfig
	Expressions   map[string]string
}

// SolidsSoilConfig configures one soil type.
type SolidsSoilConfig struct {
	Name            string
	Kh              float64
	CapillaryHead   float64
	MoistureDeficit float64
	ErosionOpt      int
}

// LandConfig configures one land-use class.
type LandConfig struct {
	Name         string
	ManningN     float64
	Interception float64
}

// LayerConfig configures one initial stack layer (bottom first).
type LayerConfig struct {
	Thickness float64
	Porosity  float64
	Csol      []float64
	Cchem     []float64
}

// YieldConfig configures one chemical yield relation.
type YieldConfig struct {
	From, To int
	Process  string
	Frac     float64
}

// PropConfig drives one environmental property from a series.
type PropConfig struct {
	Property string
	Series   SeriesConfig
}

// FpocConfig drives one fraction's particulate organic carbon.
type FpocConfig struct {
	Fraction int
	Series   SeriesConfig
}

// propIDs maps configuration property names to the core identifiers.
var propIDs = map[string]int{
	"doc":        trex.PropDOC,
	"ph":         trex.PropPH,
	"hardness":   trex.PropHardness,
	"temp_water": trex.PropTempWater,
	"temp_bed":   trex.PropTempBed,
	"oxidant":    trex.PropOxidant,
	"bacteria":   trex.PropBacteria,
	"extinction": trex.PropExtinction,
	"user":       trex.PropUser,
	"wind":       trex.PropWindSpeed,
	"cloud":      trex.PropCloudCover,
}

// procIDs maps yield process names to the core process constants.
var procIDs = map[string]int{
	"biodegradation": trex.ProcBiodegradation,
	"hydrolysis":     trex.ProcHydrolysis,
	"oxidation":      trex.ProcOxidation,
	"photolysis":     trex.ProcPhotolysis,
	"radioactive":    trex.ProcRadioactive,
	"volatilization": trex.ProcVolatilization,
	"userdefined":    trex.ProcUserDefined,
	"dissolution":    trex.ProcDissolution,
}

// LoadConfig reads the TOML run configuration at path.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("trexutil: reading configuration %s: %v", path, err)
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("trexutil: parsing configuration %s: %v", path, err)
	}

	// File paths may be absolute or relative to the configuration.
	dir := filepath.Dir(path)
	for _, p := range []*string{
		&cfg.MaskFile, &cfg.ElevationFile, &cfg.SoilFile, &cfg.LandFile,
		&cfg.InitialChemOverlandFile, &cfg.SoilChemICFile,
		&cfg.InitialSolidsFile, &cfg.DtTraceFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = dir
	} else if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(dir, cfg.OutputDir)
	}
	return cfg, validate(cfg)
}

func validate(cfg *Config) error {
	if cfg.TEnd <= cfg.TStart {
		return fmt.Errorf("trexutil: tend (%v) must be after tstart (%v)",
			cast.ToString(cfg.TEnd), cast.ToString(cfg.TStart))
	}
	if cfg.SimulateChems && len(cfg.Chems) < 1 {
		return fmt.Errorf("trexutil: chemical transport requires nchems >= 1")
	}
	switch cfg.DtMode {
	case "", "schedule":
		if len(cfg.Dts) == 0 || len(cfg.Dts) != len(cfg.DtTimes) {
			return fmt.Errorf("trexutil: dt schedule needs matching dts and dttimes")
		}
	case "auto", "relaunch":
		if cfg.DtMax <= 0 || cfg.DtMin <= 0 || cfg.DtRelax <= 0 {
			return fmt.Errorf("trexutil: automatic dt needs positive dtrelax, dtmax, and dtmin")
		}
	case "replay":
		if cfg.DtTraceFile == "" {
			return fmt.Errorf("trexutil: dt replay needs a dttracefile")
		}
	default:
		return fmt.Errorf("trexutil: unknown dtmode %q", cfg.DtMode)
	}
	if cfg.SimulateSolids && len(cfg.Solids) < 1 {
		return fmt.Errorf("trexutil: solids transport requires nsolids >= 1")
	}
	for _, y := range cfg.Yields {
		if _, ok := procIDs[y.Process]; !ok {
			return fmt.Errorf("trexutil: unknown yield process %q", y.Process)
		}
	}
	check01 := func(what string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("trexutil: %s = %g outside [0, 1]", what, v)
		}
		return nil
	}
	for _, fc := range append(append([]FpocConfig(nil), cfg.FpocOv...), cfg.FpocCh...) {
		for _, v := range fc.Series.Values {
			if err := check01("fpoc", v); err != nil {
				return err
			}
		}
	}
	for _, pc := range append(append(append([]PropConfig(nil),
		cfg.EnvGeneral...), cfg.EnvOverland...), cfg.EnvChannel...) {
		if _, ok := propIDs[pc.Property]; !ok {
			return fmt.Errorf("trexutil: unknown environmental property %q", pc.Property)
		}
	}
	return nil
}

// BuildDomain constructs the model domain and outputter described by
// the configuration.
func (cfg *Config) BuildDomain() (*trex.TREX, *trex.Outputter, error) {
	d := &trex.TREX{
		CellSize:      cfg.CellSize,
		Nodata:        cfg.Nodata,
		Latitude:      cfg.Latitude,
		TZero:         cfg.TZero,
		TStart:        cfg.TStart,
		TEnd:          cfg.TEnd,
		Channels:      cfg.Channels,
		Infiltration:  cfg.Infiltration,
		TransLoss:     cfg.TransLoss,
		SimulateSol:   cfg.SimulateSolids,
		SimulateChem:  cfg.SimulateChems,
		AdvScale:      cfg.AdvScale,
		DispCoef:      cfg.DispCoef,
		MaxStack:      cfg.MaxStack,
		CollapseStack: cfg.CollapseStack,
		MinVolFrac:    cfg.MinVolFrac,
		MaxVolFrac:    cfg.MaxVolFrac,
		SolidGroups:   cfg.SolidGroups,
		ChemGroups:    cfg.ChemGroups,
		Warnings:      os.Stderr,
	}

	for _, sc := range cfg.Soils {
		d.Soils = append(d.Soils, &trex.SoilType{
			Name: sc.Name, Kh: sc.Kh,
			CapillaryHead:   sc.CapillaryHead,
			MoistureDeficit: sc.MoistureDeficit,
			ErosionOpt:      sc.ErosionOpt,
		})
	}
	for _, lc := range cfg.Lands {
		d.Lands = append(d.Lands, &trex.LandUse{
			Name: lc.Name, ManningN: lc.ManningN, Interception: lc.Interception,
		})
	}
	for _, sc := range cfg.Solids {
		d.Solids = append(d.Solids, &trex.SolidFraction{
			Name: sc.Name, Group: sc.Group,
			Diameter:         sc.Diameter,
			SpecificGravity:  sc.SpecificGravity,
			SettlingVelocity: sc.SettlingVelocity,
			Cohesive:         sc.Cohesive,
			KUSLE:            sc.KUSLE, CUSLE: sc.CUSLE, PUSLE: sc.PUSLE,
			TauCD: sc.TauCD, TauCE: sc.TauCE,
			AY: sc.AY, MExp: sc.MExp, Aging: sc.Aging,
		})
	}
	for _, cc := range cfg.Chems {
		d.Chems = append(d.Chems, &trex.ChemSpecies{
			Name: cc.Name, Group: cc.Group,
			Partition: cc.Partition, Kp: cc.Kp, Koc: cc.Koc,
			Kb: cc.Kb, BindEff: cc.BindEff, NuX: cc.NuX,
			Biodegrade: cc.Biodegrade, Bio2nd: cc.Bio2nd,
			KBioWater: cc.KBioWater, KBioBed: cc.KBioBed,
			Hydrolyze: cc.Hydrolyze, KAcid: cc.KAcid,
			KNeutral: cc.KNeutral, KBase: cc.KBase, HydTheta: cc.HydTheta,
			Oxidize: cc.Oxidize, KOxi: cc.KOxi,
			Photolyze: cc.Photolyze, KPht: cc.KPht, RefRad: cc.RefRad,
			Decay: cc.Decay, KRad: cc.KRad,
			Volatilize: cc.Volatilize, Henry: cc.Henry, MolWeight: cc.MolWeight,
			Dissolve: cc.Dissolve, KDsl: cc.KDsl, CSat: cc.CSat, DslFrom: cc.DslFrom,
			UserReaction: cc.UserReaction, UserExpr: cc.UserExpr,
		})
	}
	for _, yc := range cfg.Yields {
		d.Yields = append(d.Yields, &trex.Yield{
			From: yc.From, To: yc.To,
			Process: procIDs[yc.Process], Frac: yc.Frac,
		})
	}

	if err := cfg.buildGrid(d); err != nil {
		return nil, nil, err
	}
	if err := cfg.buildChannels(d); err != nil {
		return nil, nil, err
	}
	if err := cfg.buildForcings(d); err != nil {
		return nil, nil, err
	}
	if err := d.Init(); err != nil {
		return nil, nil, err
	}
	if err := cfg.applyInitialConditions(d); err != nil {
		return nil, nil, err
	}
	d.CaptureInitialState()

	var stations []*trex.Station
	for _, sc := range cfg.Stations {
		stations = append(stations, &trex.Station{
			Name: sc.Name, Row: sc.Row, Col: sc.Col,
			Link: sc.Link, Node: sc.Node,
		})
	}
	o, err := trex.NewOutputter(cfg.OutputDir, cfg.GridRoot, stations, cfg.Expressions)
	if err != nil {
		return nil, nil, err
	}
	o.Schedules(cfg.TabIntervals, cfg.TabTimes, cfg.GridIntervals, cfg.GridTimes)
	return d, o, nil
}

// buildGrid reads the mask, elevation, soil, and land-use grids and
// creates the overland cells with their soil stacks.
func (cfg *Config) buildGrid(d *trex.TREX) error {
	mask, spec, err := readGridFile(cfg.MaskFile)
	if err != nil {
		return err
	}
	d.NRows, d.NCols = spec.Nrows, spec.Ncols
	d.Xll, d.Yll = spec.Xll, spec.Yll
	if d.CellSize == 0 {
		d.CellSize = spec.CellSize
	}
	if d.Nodata == 0 {
		d.Nodata = spec.Nodata
	}

	elev, espec, err := readGridFile(cfg.ElevationFile)
	if err != nil {
		return err
	}
	if err := matchSpec(espec, spec, cfg.ElevationFile); err != nil {
		return err
	}
	var soil, land *gridData
	if cfg.SoilFile != "" {
		var sspec trex.GridSpec
		soil, sspec, err = readGridFile(cfg.SoilFile)
		if err != nil {
			return err
		}
		if err := matchSpec(sspec, spec, cfg.SoilFile); err != nil {
			return err
		}
	}
	if cfg.LandFile != "" {
		var lspec trex.GridSpec
		land, lspec, err = readGridFile(cfg.LandFile)
		if err != nil {
			return err
		}
		if err := matchSpec(lspec, spec, cfg.LandFile); err != nil {
			return err
		}
	}

	for r := 1; r <= d.NRows; r++ {
		for col := 1; col <= d.NCols; col++ {
			m := mask.Get(r-1, col-1)
			if m == spec.Nodata || m == 0 {
				continue
			}
			c := &trex.Cell{
				Row: r, Col: col,
				Mask:      int(m),
				Elevation: elev.Get(r-1, col-1),
				SkyView:   1,
			}
			if soil != nil {
				idx := int(soil.Get(r-1, col-1)) - 1
				if idx >= 0 && idx < len(d.Soils) {
					c.Soil = d.Soils[idx]
				}
			} else if len(d.Soils) > 0 {
				c.Soil = d.Soils[0]
			}
			if land != nil {
				idx := int(land.Get(r-1, col-1)) - 1
				if idx >= 0 && idx < len(d.Lands) {
					c.LandUse = d.Lands[idx]
				}
			} else if len(d.Lands) > 0 {
				c.LandUse = d.Lands[0]
			}
			if c.LandUse != nil {
				c.Interception = c.LandUse.Interception
			}
			if cfg.SimulateSolids && len(cfg.SoilLayers) > 0 {
				c.Stack = buildStack(cfg.SoilLayers, c.Elevation,
					cfg.MaxStack, d.CellSize*d.CellSize, 0)
			}
			d.Cells = append(d.Cells, c)
		}
	}
	if len(d.Cells) == 0 {
		return fmt.Errorf("trexutil: mask grid %s has no in-domain cells", cfg.MaskFile)
	}
	return nil
}

func buildStack(layers []LayerConfig, surfaceElev float64, maxstack int, area, bottomWidth float64) *trex.Stack {
	var ls []trex.Layer
	var total float64
	for _, lc := range layers {
		total += lc.Thickness
	}
	for _, lc := range layers {
		ls = append(ls, trex.Layer{
			Thickness:   lc.Thickness,
			Area:        area,
			BottomWidth: bottomWidth,
			Porosity:    lc.Porosity,
			Csol:        append([]float64(nil), lc.Csol...),
			Cchem:       append([]float64(nil), lc.Cchem...),
		})
	}
	return trex.NewStack(surfaceElev-total, maxstack, ls)
}

// buildChannels creates the link/node network and binds each node to
// its overland cell.
func (cfg *Config) buildChannels(d *trex.TREX) error {
	if !cfg.Channels {
		return nil
	}
	// The domain's own lookup is not wired until Init runs.
	byRowCol := make(map[[2]int]*trex.Cell, len(d.Cells))
	for _, c := range d.Cells {
		byRowCol[[2]int{c.Row, c.Col}] = c
	}
	for li, nodes := range cfg.Links {
		l := &trex.Link{Num: li + 1}
		for ni, nc := range nodes {
			cell := byRowCol[[2]int{nc.Row, nc.Col}]
			if cell == nil {
				return fmt.Errorf("trexutil: link %d node %d at (%d,%d) is outside the domain",
					li+1, ni+1, nc.Row, nc.Col)
			}
			n := &trex.ChannelNode{
				Link: li + 1, Node: ni + 1,
				Cell:        cell,
				BottomWidth: nc.BottomWidth,
				BankHeight:  nc.BankHeight,
				SideSlope:   nc.SideSlope,
				Length:      nc.Length,
				ManningN:    nc.ManningN,
				Elevation:   nc.Elevation,
				Slope:       nc.Slope,
			}
			if cfg.SimulateSolids && len(cfg.SedimentLayers) > 0 {
				n.Stack = buildStack(cfg.SedimentLayers, nc.Elevation,
					cfg.MaxStack, nc.BottomWidth*nc.Length, nc.BottomWidth)
			}
			l.Nodes = append(l.Nodes, n)
			if ni > 0 {
				prev := l.Nodes[ni-1]
				prev.Down = append(prev.Down, n)
				n.Up = append(n.Up, prev)
			}
		}
		d.Links = append(d.Links, l)
	}
	// The last node of the last link is the domain outlet.
	if len(d.Links) > 0 {
		last := d.Links[len(d.Links)-1]
		n := last.Nodes[len(last.Nodes)-1]
		d.Outlets = append(d.Outlets, &trex.Outlet{
			Link: n.Link, Node: n.Node, Slope: n.Slope,
		})
	}
	return nil
}

// buildForcings creates the rain gauges and environmental property
// functions.
func (cfg *Config) buildForcings(d *trex.TREX) error {
	for _, sc := range cfg.RainSeries {
		f, err := trex.NewTimeFunc(sc.Name, sc.Times, sc.Values, sc.Scale)
		if err != nil {
			return err
		}
		d.RainGauges = append(d.RainGauges, f)
	}
	env := &trex.Environment{}
	addProps := func(dst *[]*trex.PropFunc, props []PropConfig) error {
		for _, pc := range props {
			f, err := trex.NewTimeFunc(pc.Series.Name, pc.Series.Times,
				pc.Series.Values, pc.Series.Scale)
			if err != nil {
				return err
			}
			*dst = append(*dst, &trex.PropFunc{Prop: propIDs[pc.Property], Func: f})
		}
		return nil
	}
	if err := addProps(&env.General, cfg.EnvGeneral); err != nil {
		return err
	}
	if err := addProps(&env.Overland, cfg.EnvOverland); err != nil {
		return err
	}
	if err := addProps(&env.Channel, cfg.EnvChannel); err != nil {
		return err
	}
	addFpoc := func(dst *[]*trex.FpocFunc, fps []FpocConfig) error {
		for _, fc := range fps {
			f, err := trex.NewTimeFunc(fc.Series.Name, fc.Series.Times,
				fc.Series.Values, fc.Series.Scale)
			if err != nil {
				return err
			}
			*dst = append(*dst, &trex.FpocFunc{Fraction: fc.Fraction, Func: f})
		}
		return nil
	}
	if err := addFpoc(&env.FpocOverland, cfg.FpocOv); err != nil {
		return err
	}
	if err := addFpoc(&env.FpocChannel, cfg.FpocCh); err != nil {
		return err
	}
	d.Env = env
	return nil
}

// applyInitialConditions applies the IC grids to an initialized
// domain. The overland chemical IC reads from its own file, distinct
// from the soil-chemical IC.
func (cfg *Config) applyInitialConditions(d *trex.TREX) error {
	if cfg.InitialSolidsFile != "" && len(d.Solids) > 0 {
		if err := applyICGrid(d, cfg.InitialSolidsFile, func(c *trex.Cell, v float64) {
			c.Csol[0], c.CsolNew[0] = v, v
		}); err != nil {
			return err
		}
	}
	if cfg.InitialChemOverlandFile != "" && len(d.Chems) > 0 {
		if err := applyICGrid(d, cfg.InitialChemOverlandFile, func(c *trex.Cell, v float64) {
			c.Cchem[0], c.CchemNew[0] = v, v
		}); err != nil {
			return err
		}
	}
	if cfg.SoilChemICFile != "" && len(d.Chems) > 0 {
		if err := applyICGrid(d, cfg.SoilChemICFile, func(c *trex.Cell, v float64) {
			if c.Stack != nil {
				surf := c.Stack.Surface()
				surf.Cchem[0], surf.CchemNew[0] = v, v
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

type gridData = sparse.DenseArray

func readGridFile(path string) (*gridData, trex.GridSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trex.GridSpec{}, fmt.Errorf("trexutil: opening grid %s: %v", path, err)
	}
	defer f.Close()
	return trex.ReadGrid(f)
}

func matchSpec(got, want trex.GridSpec, fname string) error {
	if got.Nrows != want.Nrows || got.Ncols != want.Ncols ||
		got.CellSize != want.CellSize || got.Nodata != want.Nodata {
		return fmt.Errorf("trexutil: grid %s (%dx%d, cell %g, nodata %g) does not match "+
			"the master grid (%dx%d, cell %g, nodata %g)",
			fname, got.Nrows, got.Ncols, got.CellSize, got.Nodata,
			want.Nrows, want.Ncols, want.CellSize, want.Nodata)
	}
	return nil
}

func applyICGrid(d *trex.TREX, path string, assign func(c *trex.Cell, v float64)) error {
	data, spec, err := readGridFile(path)
	if err != nil {
		return err
	}
	if spec.Nrows != d.NRows || spec.Ncols != d.NCols {
		return fmt.Errorf("trexutil: IC grid %s does not match the master grid", path)
	}
	for _, c := range d.Cells {
		v := data.Get(c.Row-1, c.Col-1)
		if v != spec.Nodata {
			assign(c, v)
		}
	}
	return nil
}
