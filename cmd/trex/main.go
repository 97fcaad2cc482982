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

// Command trex is the command-line interface for the TREX watershed
// simulator.
package main

import (
	"fmt"
	"os"

	"github.com/trexsim/trex/trexutil"
)

func main() {
	if err := trexutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
