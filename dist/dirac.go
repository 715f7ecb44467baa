/*
 *	Copyright 2026 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package dist

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Dirac is a deterministic distribution: all mass on a single value.
// Encoders with deterministic representations (CNP-style) produce Dirac
// encodings, which sample to their value and contribute zero KL.
type Dirac struct {
	value *Node
}

var _ Distribution = (*Dirac)(nil)

// NewDirac creates a Dirac distribution over the given value.
func NewDirac(value *Node) *Dirac {
	return &Dirac{value: value}
}

// Mean implements Distribution.
func (d *Dirac) Mean() *Node { return d.value }

// Variance implements Distribution: identically zero.
func (d *Dirac) Variance() *Node { return ZerosLike(d.value) }

// Sample broadcasts the value under a new leading axis of dimension num.
func (d *Dirac) Sample(_ *context.Context, num int) *Node {
	if num < 1 {
		Panicf("Dirac.Sample: num must be >= 1, got %d", num)
	}
	dims := append([]int{num}, d.value.Shape().Dimensions...)
	return BroadcastToShape(InsertAxes(d.value, 0), shapes.Make(d.value.DType(), dims...))
}

// LogPDF is not defined for a Dirac.
func (d *Dirac) LogPDF(y *Node) *Node {
	Panicf("Dirac.LogPDF: a Dirac distribution has no density")
	return nil
}

// KL between two Diracs is zero; against anything else it is undefined.
func (d *Dirac) KL(other Distribution) *Node {
	if _, ok := other.(*Dirac); !ok {
		Panicf("Dirac.KL: no closed form against %T", other)
	}
	return ScalarZero(d.value.Graph(), d.value.DType())
}
