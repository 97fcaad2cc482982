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

func TestTimeFuncInterpolation(t *testing.T) {
	f, err := NewTimeFunc("test", []float64{0, 1, 2}, []float64{0, 10, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct{ at, want float64 }{
		{-1, 0}, {0, 0}, {0.5, 5}, {1, 10}, {1.5, 5}, {2, 0}, {5, 0},
	}
	for _, c := range cases {
		if got := f.Value(c.at); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("Value(%g) = %g, want %g", c.at, got, c.want)
		}
	}
}

func TestTimeFuncScale(t *testing.T) {
	f, err := NewTimeFunc("scaled", []float64{0, 1}, []float64{2, 4}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Value(0.5); math.Abs(got-30) > 1e-12 {
		t.Errorf("scaled Value(0.5) = %g, want 30", got)
	}
}

// Cursors advance monotonically in a forward run.
func TestTimeFuncCursorMonotone(t *testing.T) {
	f, err := NewTimeFunc("mono",
		[]float64{0, 1, 2, 3, 4, 5},
		[]float64{1, 2, 3, 4, 5, 6}, 1)
	if err != nil {
		t.Fatal(err)
	}
	last := f.Cursor()
	for _, at := range []float64{0, 0.5, 0.7, 1.1, 1.1, 2.5, 4.9, 10} {
		f.Value(at)
		if f.Cursor() < last {
			t.Fatalf("cursor rewound from %d to %d at t = %g", last, f.Cursor(), at)
		}
		last = f.Cursor()
	}
	if last != len(f.Times)-1 {
		t.Errorf("final cursor = %d, want %d", last, len(f.Times)-1)
	}
}

func TestTimeFuncReseed(t *testing.T) {
	f, err := NewTimeFunc("reseed",
		[]float64{0, 1, 2, 3}, []float64{0, 10, 20, 30}, 1)
	if err != nil {
		t.Fatal(err)
	}
	f.Reseed(2.5)
	if got := f.Value(2.5); math.Abs(got-25) > 1e-12 {
		t.Errorf("Value(2.5) after reseed = %g, want 25", got)
	}
	if f.Cursor() != 2 {
		t.Errorf("cursor after reseed = %d, want 2", f.Cursor())
	}
}

func TestTimeFuncValidation(t *testing.T) {
	if _, err := NewTimeFunc("bad", []float64{0, 2, 1}, []float64{0, 0, 0}, 1); err == nil {
		t.Error("descending times were accepted")
	}
	if _, err := NewTimeFunc("bad", []float64{0, 1}, []float64{0}, 1); err == nil {
		t.Error("mismatched lengths were accepted")
	}
}

// The environment updater broadcasts interpolated properties into the
// dense per-column fields.
func TestEnvironmentUpdate(t *testing.T) {
	d := newPondDomain(1, 1)
	doc, _ := NewTimeFunc("doc", []float64{0, 2}, []float64{4, 8}, 1)
	ph, _ := NewTimeFunc("ph", []float64{0, 2}, []float64{6, 6}, 1)
	fpoc, _ := NewTimeFunc("fpoc", []float64{0, 2}, []float64{0.02, 0.02}, 1)
	d.Env = &Environment{
		Overland:     []*PropFunc{{Prop: PropDOC, Func: doc}, {Prop: PropPH, Func: ph}},
		FpocOverland: []*FpocFunc{{Fraction: 0, Func: fpoc}},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	d.SimTime = 1
	d.Env.update()
	c := d.Cells[0]
	if math.Abs(c.DOC-6) > 1e-12 {
		t.Errorf("DOC = %g, want 6 (interpolated)", c.DOC)
	}
	if c.PH != 6 {
		t.Errorf("pH = %g, want 6", c.PH)
	}
	if c.Fpoc[0] != 0.02 {
		t.Errorf("fpoc = %g, want 0.02", c.Fpoc[0])
	}
	if got := c.Stack.Surface().Fpoc[0]; got != 0.02 {
		t.Errorf("surface-layer fpoc = %g, want 0.02", got)
	}
}
