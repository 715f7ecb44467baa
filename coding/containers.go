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

package coding

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Parallel is an ordered, fixed-length collection of pipeline values -- one
// per branch of a multi-branch model. Recursive operations over pipeline
// values (coding, sampling, KL) preserve its length and order.
//
// A Parallel of Coders is itself a Coder: it codes branch by branch, pairing
// each branch coder with the matching branch of any Parallel argument and
// broadcasting non-Parallel arguments to every branch.
type Parallel struct {
	elements []any
}

// Compile-time check: a Parallel of coders composes like a coder.
var (
	_ Coder   = (*Parallel)(nil)
	_ Tracker = (*Parallel)(nil)
)

// NewParallel creates a Parallel from the given elements, preserving order.
func NewParallel(elements ...any) *Parallel {
	return &Parallel{elements: elements}
}

// Len returns the number of branches.
func (p *Parallel) Len() int { return len(p.elements) }

// At returns the i-th branch.
func (p *Parallel) At(i int) any { return p.elements[i] }

// Elements returns the underlying branches, in order. The returned slice is
// owned by the Parallel and must not be modified.
func (p *Parallel) Elements() []any { return p.elements }

// String implements fmt.Stringer.
func (p *Parallel) String() string {
	parts := make([]string, len(p.elements))
	for i, el := range p.elements {
		parts[i] = fmt.Sprintf("%v", el)
	}
	return "Parallel(" + strings.Join(parts, ", ") + ")"
}

// Code implements Coder, coding branch by branch.
func (p *Parallel) Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any) {
	xzs := make([]any, p.Len())
	zs := make([]any, p.Len())
	for i, el := range p.elements {
		coder := mustCoder(el)
		branchCtx := ctx.In(fmt.Sprintf("branch_%d", i))
		xzs[i], zs[i] = coder.Code(branchCtx, p.branchArg(xc, i), p.branchArg(yc, i), p.branchArg(xt, i), opts)
	}
	return NewParallel(xzs...), NewParallel(zs...)
}

// CodeTrack implements Tracker, tracking each branch independently.
func (p *Parallel) CodeTrack(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any, h *Tracking) {
	xzs := make([]any, p.Len())
	zs := make([]any, p.Len())
	h = &Tracking{Xt: xt, Branches: make([]*Tracking, p.Len())}
	for i, el := range p.elements {
		coder := mustCoder(el)
		branchCtx := ctx.In(fmt.Sprintf("branch_%d", i))
		xzs[i], zs[i], h.Branches[i] = CodeTrack(branchCtx, coder, p.branchArg(xc, i), p.branchArg(yc, i), p.branchArg(xt, i), opts)
	}
	return NewParallel(xzs...), NewParallel(zs...), h
}

// branchArg selects the i-th branch of a Parallel argument, or broadcasts a
// non-Parallel argument to every branch.
func (p *Parallel) branchArg(v any, i int) any {
	vp, ok := v.(*Parallel)
	if !ok {
		return v
	}
	if vp.Len() != p.Len() {
		Panicf("Parallel coder with %d branches applied to a Parallel value with %d branches", p.Len(), vp.Len())
	}
	return vp.At(i)
}

// Masked wraps context outputs with a validity mask: Mask is 1 where Values
// holds a real observation and 0 where it is padding. Its shape is that of
// Values with the channels axis collapsed to 1.
type Masked struct {
	Values *Node
	Mask   *Node
}

// NewMasked wraps values with the given mask.
func NewMasked(values, mask *Node) *Masked {
	if values.Rank() != mask.Rank() {
		Panicf("NewMasked: values (%s) and mask (%s) must have the same rank", values.Shape(), mask.Shape())
	}
	if values.Shape().Dim(-1) != mask.Shape().Dim(-1) {
		Panicf("NewMasked: values (%s) and mask (%s) must cover the same points", values.Shape(), mask.Shape())
	}
	return &Masked{Values: values, Mask: mask}
}

// String implements fmt.Stringer.
func (m *Masked) String() string {
	return fmt.Sprintf("Masked(%s, %s)", m.Values.Shape(), m.Mask.Shape())
}

// PadContext grows a context set (x, y) along the points axis to toSize
// points, returning the padded inputs and the padded outputs wrapped in a
// Masked that flags the original points. It lets context sets of different
// sizes be batched together. x and y must be rank-3 `[batch, channels,
// points]` tensors covering the same points.
func PadContext(x, y *Node, toSize int) (*Node, *Masked) {
	if x.Rank() != 3 || y.Rank() != 3 {
		Panicf("PadContext: x (%s) and y (%s) must be rank-3 [batch, channels, points]", x.Shape(), y.Shape())
	}
	numPoints := y.Shape().Dim(-1)
	if x.Shape().Dim(-1) != numPoints {
		Panicf("PadContext: x (%s) and y (%s) must cover the same points", x.Shape(), y.Shape())
	}
	if toSize < numPoints {
		Panicf("PadContext: cannot pad %d points down to %d", numPoints, toSize)
	}
	g := y.Graph()
	batchSize := y.Shape().Dim(0)
	pad := toSize - numPoints
	valid := Ones(g, shapes.Make(y.DType(), batchSize, 1, numPoints))
	mask := valid
	if pad > 0 {
		x = GrowRight(x, x.Rank()-1, pad, 0)
		y = GrowRight(y, y.Rank()-1, pad, 0)
		mask = Concatenate([]*Node{valid, Zeros(g, shapes.Make(y.DType(), batchSize, 1, pad))}, -1)
	}
	return x, NewMasked(y, mask)
}

// AugmentedInput pairs target inputs with auxiliary per-target data. Coders
// that understand the augmentation unwrap it; everything else treats it as an
// opaque input.
type AugmentedInput struct {
	X   any
	Aux *Node
}

// String implements fmt.Stringer.
func (a *AugmentedInput) String() string {
	return fmt.Sprintf("AugmentedInput(%v, %s)", a.X, a.Aux.Shape())
}
