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

// Package coding defines the composable encode/decode pipeline of a neural
// process: the Coder contract, sequential (Chain) and multi-branch (Parallel)
// composition, the data wrappers threaded through a pipeline (Parallel,
// Masked, AugmentedInput) and the option set coders receive.
//
// Values flowing through a pipeline are held as `any` and are one of:
//
//   - `*graph.Node`: a plain tensor, laid out `[batch, channels, points]`;
//   - `[]*graph.Node`: a tuple of tensors (e.g. per-dimension grid inputs);
//   - `*Parallel`: one value per branch of a multi-branch pipeline;
//   - `*Masked` (outputs only): a tensor with a validity mask;
//   - `*AugmentedInput` (inputs only): an input with auxiliary data attached;
//   - a `dist.Distribution`, once a likelihood head has been applied.
//
// A Coder maps a context `(xc, yc)` and target inputs `xt` to a new pair
// `(xz, z)`: where the code lives, and the code itself. Coders at the end of
// an encoder or decoder return a distribution as `z`.
package coding

import (
	"maps"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/dist"
)

// Well-known option keys. Unknown keys pass through coders untouched, so
// custom coders can define their own.
const (
	// OptionNoiseless asks likelihood heads to drop observation noise. It is
	// meaningful for decoders only: the model orchestrator strips it from the
	// encoder's option set.
	OptionNoiseless = "noiseless"

	// OptionDTypeLik sets the dtype (a dtypes.DType) in which likelihood
	// heads emit their statistics, typically a wider float to avoid
	// underflow in log-densities.
	OptionDTypeLik = "dtype_lik"
)

// Options carries keyword options through every stage of a coding pipeline.
// A nil Options behaves as empty.
type Options map[string]any

// Clone returns a copy that can be modified without affecting the original.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return maps.Clone(o)
}

// Noiseless reports whether OptionNoiseless is set to true.
func (o Options) Noiseless() bool {
	v, ok := o[OptionNoiseless].(bool)
	return ok && v
}

// DTypeLik returns the likelihood dtype, if one was set.
func (o Options) DTypeLik() (dtypes.DType, bool) {
	dt, ok := o[OptionDTypeLik].(dtypes.DType)
	return dt, ok
}

// Coder is one stage of an encode/decode pipeline.
type Coder interface {
	// Code transforms the context (xc, yc) and target inputs xt into an
	// encoded pair (xz, z). See the package documentation for the value
	// types xc, yc, xt, xz and z range over.
	Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any)
}

// Tracker is a Coder that can record its intermediate stages, so a posterior
// can later be constructed without re-deriving them (see RecodeStochastic).
type Tracker interface {
	Coder
	CodeTrack(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any, h *Tracking)
}

// StochasticRecoder is a Coder that knows how to turn the prior it produced
// into a posterior conditioned on observed target outputs.
type StochasticRecoder interface {
	Coder
	RecodeStochastic(ctx *context.Context, pz, xt, yt any, h *Tracking, opts Options) any
}

// Tracking records the intermediates of a tracked encoding pass.
type Tracking struct {
	// Xt holds the target inputs the pass encoded at.
	Xt any

	// Stages holds the (xz, z) produced after each sequential stage.
	Stages []TrackedStage

	// Branches holds one handle per branch, for Parallel coders.
	Branches []*Tracking
}

// TrackedStage is one recorded pipeline stage.
type TrackedStage struct {
	Coder Coder
	Xz, Z any
}

// Code runs one coder. It is the function form of Coder.Code, mirroring the
// pipeline contract consumed by the model orchestrator.
func Code(ctx *context.Context, coder Coder, xc, yc, xt any, opts Options) (xz, z any) {
	return coder.Code(ctx, xc, yc, xt, opts)
}

// CodeTrack runs one coder while recording its intermediate stages. Coders
// that do not implement Tracker are recorded as a single stage.
func CodeTrack(ctx *context.Context, coder Coder, xc, yc, xt any, opts Options) (xz, z any, h *Tracking) {
	if tracker, ok := coder.(Tracker); ok {
		return tracker.CodeTrack(ctx, xc, yc, xt, opts)
	}
	xz, z = coder.Code(ctx, xc, yc, xt, opts)
	h = &Tracking{Xt: xt, Stages: []TrackedStage{{Coder: coder, Xz: xz, Z: z}}}
	return
}

// RecodeStochastic builds the posterior over an encoding from its prior pz
// and observed target outputs yt at target inputs xt, given the Tracking
// handle of the pass that built pz.
//
// Parallel priors are recoded branch by branch. Dirac priors are
// deterministic and returned unchanged, so they contribute zero KL. Coders
// implementing StochasticRecoder are delegated to; for any other coder the
// posterior is amortised, re-encoding the target set as context at the
// tracked encoding inputs.
func RecodeStochastic(ctx *context.Context, coder Coder, pz, xt, yt any, h *Tracking, opts Options) any {
	if pp, ok := pz.(*Parallel); ok {
		branchCoders, isParallel := coder.(*Parallel)
		if isParallel && branchCoders.Len() != pp.Len() {
			Panicf("RecodeStochastic: %d coder branches for %d prior branches", branchCoders.Len(), pp.Len())
		}
		qs := make([]any, pp.Len())
		for i := range qs {
			branchCoder := coder
			if isParallel {
				branchCoder = mustCoder(branchCoders.At(i))
			}
			var branchH *Tracking
			if h != nil && len(h.Branches) == pp.Len() {
				branchH = h.Branches[i]
			}
			qs[i] = RecodeStochastic(ctx, branchCoder, pp.At(i), xt, yt, branchH, opts)
		}
		return NewParallel(qs...)
	}
	if _, ok := pz.(*dist.Dirac); ok {
		return pz
	}
	if recoder, ok := coder.(StochasticRecoder); ok {
		return recoder.RecodeStochastic(ctx, pz, xt, yt, h, opts)
	}
	encXt := xt
	if h != nil && h.Xt != nil {
		encXt = h.Xt
	}
	_, qz := coder.Code(ctx, xt, yt, encXt, opts)
	return qz
}

func mustCoder(v any) Coder {
	coder, ok := v.(Coder)
	if !ok {
		Panicf("expected a coding.Coder, got %T", v)
	}
	return coder
}
