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
	"fmt"
	"sort"
)

// TimeFunc is a piecewise-linear forcing: a list of (time, value)
// pairs with a monotone cursor and the slope/intercept of the current
// interval cached. Times are hours from simulation time zero.
type TimeFunc struct {
	Name   string
	Times  []float64
	Values []float64
	Scale  float64 // unit-conversion scale factor applied to values

	cursor     int
	slope      float64
	intercept  float64
	nextUpdate float64
}

// NewTimeFunc builds a forcing from ascending (time, value) pairs.
// scale multiplies every value on evaluation.
func NewTimeFunc(name string, times, values []float64, scale float64) (*TimeFunc, error) {
	if len(times) != len(values) || len(times) == 0 {
		return nil, fmt.Errorf("trex: time function %s: %d times for %d values",
			name, len(times), len(values))
	}
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return nil, fmt.Errorf("trex: time function %s: times not ascending at pair %d",
				name, i)
		}
	}
	if scale == 0 {
		scale = 1
	}
	f := &TimeFunc{Name: name, Times: times, Values: values, Scale: scale}
	f.recache()
	return f, nil
}

// Cursor returns the current cursor index. Cursors never rewind in a
// forward run.
func (f *TimeFunc) Cursor() int { return f.cursor }

// recache recomputes the slope and intercept from the bracketing pair.
func (f *TimeFunc) recache() {
	i := f.cursor
	if i >= len(f.Times)-1 {
		f.slope = 0
		f.intercept = f.Values[len(f.Values)-1]
		f.nextUpdate = f.Times[len(f.Times)-1]
		return
	}
	dt := f.Times[i+1] - f.Times[i]
	if dt > 0 {
		f.slope = (f.Values[i+1] - f.Values[i]) / dt
	} else {
		f.slope = 0
	}
	f.intercept = f.Values[i] - f.slope*f.Times[i]
	f.nextUpdate = f.Times[i+1]
}

// update advances the cursor while sim time has crossed the end of its
// current interval, recaching the interpolation coefficients.
func (f *TimeFunc) update(t float64) {
	for f.cursor < len(f.Times)-1 && t >= f.nextUpdate {
		f.cursor++
		f.recache()
	}
}

// Value interpolates the forcing at time t (hours), advancing the
// cursor as needed.
func (f *TimeFunc) Value(t float64) float64 {
	f.update(t)
	if t <= f.Times[0] {
		return f.Values[0] * f.Scale
	}
	if t >= f.Times[len(f.Times)-1] {
		return f.Values[len(f.Values)-1] * f.Scale
	}
	return (f.intercept + f.slope*t) * f.Scale
}

// Reseed positions the cursor for time t by binary search. Used when a
// run restarts mid-series.
func (f *TimeFunc) Reseed(t float64) {
	i := sort.SearchFloat64s(f.Times, t)
	if i > 0 {
		i--
	}
	f.cursor = i
	f.recache()
}

// Load is a point or distributed external load of one solids fraction
// or one chemical species.
type Load struct {
	Chem  bool // chemical load; otherwise a solids load
	Index int  // fraction or species index (0-based)

	Row, Col   int // overland target, when Link == 0
	Link, Node int // channel target, when Link > 0

	Func *TimeFunc // load rate (kg/day)
}

// Environmental property identifiers.
const (
	PropDOC = iota
	PropPH
	PropHardness
	PropTempWater
	PropTempBed
	PropOxidant
	PropBacteria
	PropExtinction
	PropUser
	PropWindSpeed
	PropCloudCover
	NProps
)

// PropFunc drives one environmental property from a time function.
type PropFunc struct {
	Prop int
	Func *TimeFunc
}

// FpocFunc drives the particulate organic carbon fraction of one
// solids fraction.
type FpocFunc struct {
	Fraction int
	Func     *TimeFunc
}

// Environment holds the environmental property tables: general
// (meteorological), overland, and channel, plus fpoc by fraction.
// Interpolated values are broadcast into the dense per-column fields
// each step so downstream stages read by index, not by table lookup.
type Environment struct {
	General  []*PropFunc
	Overland []*PropFunc
	Channel  []*PropFunc

	FpocOverland []*FpocFunc
	FpocChannel  []*FpocFunc

	d *TREX
}

// Default property values used until (or unless) a table drives them.
const (
	defaultPH        = 7.0
	defaultTempWater = 20.0
	defaultTempBed   = 15.0
)

func (e *Environment) init(d *TREX) {
	e.d = d
	for _, c := range d.Cells {
		c.PH = defaultPH
		c.TempWater = defaultTempWater
		c.TempBed = defaultTempBed
	}
	d.eachNode(func(n *ChannelNode) {
		n.PH = defaultPH
		n.TempWater = defaultTempWater
		n.TempBed = defaultTempBed
	})
}

// update advances every forcing cursor whose next update time has been
// reached and writes interpolated values into the dense per-column
// fields, then recomputes solar radiation.
func (e *Environment) update() {
	d := e.d
	t := d.SimTime

	for _, pf := range e.General {
		v := pf.Func.Value(t)
		for _, c := range d.Cells {
			setProp(&c.Column, pf.Prop, v)
			switch pf.Prop {
			case PropWindSpeed:
				c.WindSpeed = v
			case PropCloudCover:
				c.CloudCover = v
			}
		}
		d.eachNode(func(n *ChannelNode) { setProp(&n.Column, pf.Prop, v) })
	}
	for _, pf := range e.Overland {
		v := pf.Func.Value(t)
		for _, c := range d.Cells {
			setProp(&c.Column, pf.Prop, v)
		}
	}
	for _, pf := range e.Channel {
		v := pf.Func.Value(t)
		d.eachNode(func(n *ChannelNode) { setProp(&n.Column, pf.Prop, v) })
	}
	for _, ff := range e.FpocOverland {
		v := ff.Func.Value(t)
		for _, c := range d.Cells {
			c.Fpoc[ff.Fraction] = v
			if c.Stack != nil {
				for k := 0; k < c.Stack.N; k++ {
					c.Stack.Layers[k].Fpoc[ff.Fraction] = v
				}
			}
		}
	}
	for _, ff := range e.FpocChannel {
		v := ff.Func.Value(t)
		d.eachNode(func(n *ChannelNode) {
			n.Fpoc[ff.Fraction] = v
			if n.Stack != nil {
				for k := 0; k < n.Stack.N; k++ {
					n.Stack.Layers[k].Fpoc[ff.Fraction] = v
				}
			}
		})
	}

	e.computeSolarRadiation()
}

func setProp(w *Column, prop int, v float64) {
	switch prop {
	case PropDOC:
		w.DOC = v
	case PropPH:
		w.PH = v
	case PropHardness:
		w.Hardness = v
	case PropTempWater:
		w.TempWater = v
	case PropTempBed:
		w.TempBed = v
	case PropOxidant:
		w.Oxidant = v
	case PropBacteria:
		w.Bacteria = v
	case PropExtinction:
		w.Extinction = v
	case PropUser:
		w.UserProp = v
	}
}

// Reseed repositions every forcing cursor for a restart at time t.
func (e *Environment) Reseed(t float64) {
	for _, pf := range e.General {
		pf.Func.Reseed(t)
	}
	for _, pf := range e.Overland {
		pf.Func.Reseed(t)
	}
	for _, pf := range e.Channel {
		pf.Func.Reseed(t)
	}
	for _, ff := range e.FpocOverland {
		ff.Func.Reseed(t)
	}
	for _, ff := range e.FpocChannel {
		ff.Func.Reseed(t)
	}
}
