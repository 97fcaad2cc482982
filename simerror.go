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
	"io"
)

// Fatal simulation error codes.
const (
	ErrNegativeDepthOverland = iota + 1
	ErrNegativeSWE
	ErrNegativeDepthChannel
	ErrNegativeSolidsOverland
	ErrNegativeSolidsChannel
	ErrNegativeChemOverland
	ErrNegativeChemChannel
	ErrBankHeightPop
	ErrBankHeightPush
	ErrSoilStackFull
	ErrSedimentStackFull
	ErrDtUnderflow
	ErrGridMismatch
)

var simErrorText = map[int]string{
	ErrNegativeDepthOverland:  "negative water depth in overland cell",
	ErrNegativeSWE:            "negative snow water equivalent depth in overland cell",
	ErrNegativeDepthChannel:   "negative water depth in channel node",
	ErrNegativeSolidsOverland: "negative solids concentration in overland cell",
	ErrNegativeSolidsChannel:  "negative solids concentration in channel node",
	ErrNegativeChemOverland:   "negative chemical concentration in overland cell",
	ErrNegativeChemChannel:    "negative chemical concentration in channel node",
	ErrBankHeightPop:          "channel bank height driven to zero or below (pop soil stack)",
	ErrBankHeightPush:         "channel bank height driven to zero or below (push sediment stack)",
	ErrSoilStackFull:          "soil stack full and no collapse option",
	ErrSedimentStackFull:      "sediment stack full and no collapse option",
	ErrDtUnderflow:            "time step below minimum floor",
	ErrGridMismatch:           "auxiliary grid does not match the master grid",
}

// SimulationError is a fatal integration-loop error. It aborts the run
// after its diagnostic is written to the simulation-error file; final
// output other than the error file is suppressed.
type SimulationError struct {
	Code int

	Time float64 // sim time (h)
	Dt   float64 // current time step (s)

	Row, Col   int // overland location, when applicable
	Link, Node int // channel location, when applicable

	// Index of the offending fraction or species, when applicable
	// (0-based; -1 when not applicable).
	Index int

	Value float64 // the offending value
	Limit float64 // the violated limit, when applicable
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("trex: simulation error %d: %s (time = %g h)",
		e.Code, simErrorText[e.Code], e.Time)
}

// WriteDiagnostic writes the full diagnostic for the error in the
// layout of the simulation-error file.
func (e *SimulationError) WriteDiagnostic(w io.Writer) {
	fmt.Fprintf(w, "\nSimulation Errors Encountered!!!\n\n")
	fmt.Fprintf(w, "Current simulation time = %f hours.\n", e.Time)
	fmt.Fprintf(w, "Current time step dt = %f seconds\n\n", e.Dt)
	fmt.Fprintf(w, "Error %d: %s\n", e.Code, simErrorText[e.Code])
	if e.Row > 0 {
		fmt.Fprintf(w, "Overland cell row: %d  column: %d\n", e.Row, e.Col)
	}
	if e.Link > 0 {
		fmt.Fprintf(w, "Channel link: %d  node: %d\n", e.Link, e.Node)
	}
	if e.Index >= 0 {
		fmt.Fprintf(w, "State variable index: %d\n", e.Index+1)
	}
	fmt.Fprintf(w, "Offending value: %g", e.Value)
	if e.Limit != 0 {
		fmt.Fprintf(w, "  (limit: %g)", e.Limit)
	}
	fmt.Fprintf(w, "\n\nTREX simulation aborted...\n")
}

// negativeState builds the negative-state error for a cell or node,
// cross-reporting the channel location when the overland cell contains
// a channel node.
func negativeState(d *TREX, code int, cell *Cell, node *ChannelNode, index int, value float64) *SimulationError {
	e := &SimulationError{
		Code: code, Time: d.SimTime, Dt: d.Dt,
		Index: index, Value: value,
	}
	if cell != nil {
		e.Row, e.Col = cell.Row, cell.Col
		if cell.Node != nil {
			e.Link, e.Node = cell.Node.Link, cell.Node.Node
		}
	}
	if node != nil {
		e.Link, e.Node = node.Link, node.Node
		if node.Cell != nil {
			e.Row, e.Col = node.Cell.Row, node.Cell.Col
		}
	}
	return e
}
