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
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/dist"
)

// Likelihood heads: the terminal stages of an encoder or decoder chain that
// turn the running code into a distribution. They honor OptionDTypeLik
// (statistics cast to a wider float) and, for Gaussian heads,
// OptionNoiseless (observation noise dropped).

// DeterministicLikelihood wraps the code into a Dirac distribution: the
// deterministic (CNP-style) encoding path.
type DeterministicLikelihood struct{}

var _ Coder = DeterministicLikelihood{}

// Code implements Coder.
func (DeterministicLikelihood) Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any) {
	code := codeTensor(yc)
	if dt, ok := opts.DTypeLik(); ok {
		code = ConvertDType(code, dt)
	}
	return xc, dist.NewDirac(code)
}

// String implements fmt.Stringer.
func (DeterministicLikelihood) String() string { return "DeterministicLikelihood()" }

// HeterogeneousGaussianLikelihood splits the code's channels axis in two
// halves -- means and pre-variances -- and produces a Normal with
// per-element variance Softplus(preVariance).
type HeterogeneousGaussianLikelihood struct{}

var _ Coder = HeterogeneousGaussianLikelihood{}

// Code implements Coder.
func (HeterogeneousGaussianLikelihood) Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any) {
	code := codeTensor(yc)
	channelsAxis := code.Rank() - 2
	numChannels := code.Shape().Dim(channelsAxis)
	if numChannels%2 != 0 {
		Panicf("HeterogeneousGaussianLikelihood requires an even number of channels (mean and variance halves), got %s", code.Shape())
	}
	mean := SliceAxis(code, channelsAxis, AxisRange(0, numChannels/2))
	variance := Softplus(SliceAxis(code, channelsAxis, AxisRange(numChannels/2, numChannels)))
	if opts.Noiseless() {
		variance = ZerosLike(variance)
	}
	if dt, ok := opts.DTypeLik(); ok {
		mean = ConvertDType(mean, dt)
		variance = ConvertDType(variance, dt)
	}
	return xc, dist.NewNormal(mean, variance)
}

// String implements fmt.Stringer.
func (HeterogeneousGaussianLikelihood) String() string { return "HeterogeneousGaussianLikelihood()" }

func codeTensor(yc any) *Node {
	code, ok := yc.(*Node)
	if !ok {
		Panicf("likelihood head expects the running code to be a *graph.Node, got %T", yc)
	}
	if code.Rank() < 2 {
		Panicf("likelihood head expects a code shaped [..., channels, points], got %s", code.Shape())
	}
	return code
}
