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

package neuralprocesses

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/coding"
)

// LogLik is the log-likelihood objective: the Monte-Carlo estimate of the
// marginal log-likelihood of the target outputs yt under the model's
// prediction at xt, given the context set (xc, yc).
//
// With numSamples > 1 it is the importance-weighted estimator: the
// per-sample log-densities are collapsed over the leading sample axis by
// log-sum-exp minus log(numSamples). Log-densities are evaluated in float64
// regardless of the working dtype, to avoid underflow; the encoder sample
// itself is kept in yt's dtype. If normalize is true the result is divided
// by the number of target points. Additional pipeline options can be passed
// through opts (nil is fine).
func LogLik(ctx *context.Context, model *Model, xc, yc, xt any, yt *Node, numSamples int, normalize bool, opts coding.Options) *Node {
	if numSamples < 1 {
		numSamples = 1
	}
	working, lik := objectiveDTypes(yt)
	callOpts := &CallOptions{
		NumSamples:     numSamples,
		DTypeEncSample: working,
		Coding:         opts.Clone(),
	}
	callOpts.Coding[coding.OptionDTypeLik] = lik

	pred := mustDistribution(model.Call(ctx, xc, yc, xt, callOpts))
	logpdfs := pred.LogPDF(ConvertDType(yt, lik))

	if numSamples > 1 {
		// The sample axis is always the leading one.
		logpdfs = AddScalar(logSumExp(logpdfs, 0), -math.Log(float64(numSamples)))
	}
	if normalize {
		logpdfs = DivScalar(logpdfs, float64(numTargets(xt)))
	}
	return logpdfs
}

// ELBO is the variational lower-bound objective.
//
// The prior over the encoding comes from a tracked encoder pass on the
// context set; the posterior recodes it against the target outputs (see
// coding.RecodeStochastic). The bound is the posterior-sample average of the
// decoder's log-density at yt minus KL(posterior||prior) -- the KL term is
// computed once, not averaged over samples.
//
// With subsumeContext the context set is concatenated into the target set
// along the points axis before the bound is formed, which the amortised
// bound of this model family requires; it only supports plain tensor
// inputs/outputs. If normalize is true the result is divided by the number
// of target points.
func ELBO(ctx *context.Context, model *Model, xc, yc, xt any, yt *Node, numSamples int, normalize, subsumeContext bool, opts coding.Options) *Node {
	if numSamples < 1 {
		numSamples = 1
	}
	working, lik := objectiveDTypes(yt)
	codingOpts := opts.Clone()
	codingOpts[coding.OptionDTypeLik] = lik

	if subsumeContext {
		xcNode, okX := xc.(*Node)
		ycNode, okY := yc.(*Node)
		xtNode, okT := xt.(*Node)
		if !okX || !okY || !okT {
			Panicf("ELBO with subsumeContext requires plain tensor context and target sets, got xc=%T, yc=%T, xt=%T", xc, yc, xt)
		}
		xt = Concatenate([]*Node{xcNode, xtNode}, -1)
		yt = Concatenate([]*Node{ycNode, yt}, -1)
	}

	// Prior, then posterior conditioned on the targets. The recoding pass
	// revisits the encoder's scope, so variable reuse checks are off.
	encCtx := ctx.In("encoder")
	xz, pz, h := coding.CodeTrack(encCtx, model.Encoder, xc, yc, xt, codingOpts)
	qz := coding.RecodeStochastic(encCtx.Checked(false), model.Encoder, pz, xt, yt, h, codingOpts)

	z := castSample(sampleLatent(ctx, qz, numSamples), working)
	_, d := coding.Code(ctx.In("decoder"), model.Decoder, xz, z, xt, codingOpts)
	pred := mustDistribution(d)

	elbos := Sub(
		ReduceMean(pred.LogPDF(ConvertDType(yt, lik)), 0),
		ConvertDType(klDivergence(qz, pz), lik))
	if normalize {
		elbos = DivScalar(elbos, float64(numTargets(xt)))
	}
	return elbos
}

// objectiveDTypes returns the working dtype (yt's float dtype, used for the
// encoder sample) and the likelihood dtype (its promotion to a 64-bit
// float, used for log-density evaluation).
func objectiveDTypes(yt *Node) (working, lik dtypes.DType) {
	working = yt.DType()
	if !working.IsFloat() {
		Panicf("objectives require float target outputs, got %s", working)
	}
	return working, dtypes.Float64
}

// logSumExp reduces x over the given axis with the numerically stable
// shifted formulation.
func logSumExp(x *Node, axis int) *Node {
	maxKept := StopGradient(ReduceAndKeep(x, ReduceMax, axis))
	out := Log(ReduceSum(Exp(Sub(x, maxKept)), axis))
	// The kept axis has dimension 1, so this sum just drops it.
	return Add(out, ReduceSum(maxKept, axis))
}

// numTargets returns the number of target points: the dimension of the last
// axis of the target inputs, descending into wrappers as needed.
func numTargets(xt any) int {
	switch t := xt.(type) {
	case *Node:
		return t.Shape().Dim(-1)
	case []*Node:
		if len(t) == 0 {
			Panicf("cannot count targets of an empty tuple")
		}
		return t[0].Shape().Dim(-1)
	case *coding.Parallel:
		if t.Len() == 0 {
			Panicf("cannot count targets of an empty Parallel")
		}
		return numTargets(t.At(0))
	case *coding.AugmentedInput:
		return numTargets(t.X)
	}
	Panicf("cannot count targets of a %T", xt)
	return 0
}
