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

// Package neuralprocesses implements conditional and latent-variable neural
// processes on top of GoMLX: models that map a context set of input/output
// pairs to a predictive distribution over outputs at arbitrary target inputs.
//
// A Model owns an encoder and a decoder, both built from composable coders
// (package coding). Encoding produces a distribution over a functional
// representation; a sample of that representation is decoded into the
// predictive distribution (package dist). On top of the model sit the
// training objectives LogLik (importance-weighted Monte Carlo
// log-likelihood) and ELBO (variational bound with explicit prior/posterior
// construction), and the Predict convenience that executes the model and
// returns marginal statistics plus noiseless samples.
//
// Model calls and the objectives are graph-building functions, meant to be
// used inside a graph closure the same way the GoMLX losses are; Predict is
// eager and runs its own executions.
package neuralprocesses

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/coding"
)

// Model is an encoder-decoder neural process. It holds no state besides its
// two coders: it can be constructed once and reused across any number of
// calls and graphs.
type Model struct {
	Encoder coding.Coder
	Decoder coding.Coder
}

// New creates a Model from an encoder and a decoder coder.
func New(encoder, decoder coding.Coder) *Model {
	return &Model{Encoder: encoder, Decoder: decoder}
}

// CallOptions configures a Model call. The zero value (and nil) give the
// defaults: a single sample, no augmentation, no sample casting and no
// pipeline options.
type CallOptions struct {
	// NumSamples is the number of samples drawn from the encoded
	// distribution; values < 1 mean 1. The decoded prediction carries a
	// leading sample axis of this dimension.
	NumSamples int

	// AuxT, if set, is auxiliary per-target data: the target inputs are
	// wrapped into a coding.AugmentedInput pairing them with it.
	AuxT *Node

	// DTypeEncSample, if set, casts the sample of the encoding to this dtype
	// before decoding, so decoding precision can differ from the encoder's.
	DTypeEncSample dtypes.DType

	// Coding is forwarded to both pipeline stages, except that
	// coding.OptionNoiseless is withheld from the encoder.
	Coding coding.Options
}

// Call runs the model on a single context set (xc, yc) -- or a
// coding.Parallel of them already assembled by the caller -- and target
// inputs xt. It returns the predictive distribution over target outputs: a
// dist.Distribution, or a coding.Parallel of them for multi-branch decoders.
//
// Arguments are never mutated, and failures inside the coders propagate
// unchanged.
func (m *Model) Call(ctx *context.Context, xc, yc, xt any, opts *CallOptions) any {
	if opts == nil {
		opts = &CallOptions{}
	}
	numSamples := opts.NumSamples
	if numSamples < 1 {
		numSamples = 1
	}
	if opts.AuxT != nil {
		xt = &coding.AugmentedInput{X: xt, Aux: opts.AuxT}
	}

	// The noiseless option only ever applies to the decoder, so the encoder
	// receives a copy of the option set with it removed.
	decOpts := opts.Coding.Clone()
	encOpts := decOpts.Clone()
	delete(encOpts, coding.OptionNoiseless)

	xz, pz := coding.Code(ctx.In("encoder"), m.Encoder, xc, yc, xt, encOpts)
	z := sampleLatent(ctx, pz, numSamples)
	if opts.DTypeEncSample != dtypes.InvalidDType {
		z = castSample(z, opts.DTypeEncSample)
	}
	_, d := coding.Code(ctx.In("decoder"), m.Decoder, xz, z, xt, decOpts)
	return d
}

// ContextSet is one observed context set: inputs (a tensor or a tuple of
// tensors) and outputs (a tensor, possibly wrapped in a coding.Masked).
type ContextSet struct {
	X, Y any
}

// CallWithContexts runs the model on an ordered sequence of context sets,
// e.g. one per data modality. The sets are repackaged, order preserved, into
// a Parallel of inputs and a Parallel of outputs, whose branches pair up
// with the branches of a Parallel encoder; everything else behaves exactly
// like Call.
func (m *Model) CallWithContexts(ctx *context.Context, contexts []ContextSet, xt any, opts *CallOptions) any {
	xs := make([]any, len(contexts))
	ys := make([]any, len(contexts))
	for i, c := range contexts {
		xs[i], ys[i] = c.X, c.Y
	}
	return m.Call(ctx, coding.NewParallel(xs...), coding.NewParallel(ys...), xt, opts)
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("Model(\n%s,\n%s\n)",
		indent(fmt.Sprintf("%v", m.Encoder)),
		indent(fmt.Sprintf("%v", m.Decoder)))
}

func indent(s string) string {
	const prefix = "    "
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
