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

// Package dist provides the multi-output distribution objects produced by
// neural-process coders: a diagonal Normal and a Dirac (deterministic)
// distribution, both over tensors laid out as `[..., channels, points]`.
//
// Distributions are graph values: their statistics are `*graph.Node`s and all
// of their operations build graph nodes. Sampling draws from the random
// number generator stored in the `context.Context` (see
// `context.Context.RandomNormal`).
package dist

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Epsilon is the process-wide regularisation added to variances before
// sampling, to keep near-singular distributions numerically stable.
//
// Predictors may temporarily scale it up when sampling fails (see
// neuralprocesses.Predict), but must restore it before returning. Access is
// not synchronized: hosts running concurrent goroutines through code that
// mutates Epsilon must serialize those calls.
var Epsilon = 1e-6

// Distribution is a multi-output distribution over a tensor of outputs.
//
// The trailing two axes of its statistics are the output channels and the
// points ("positions") the distribution covers; any leading axes (batch,
// sample) are carried through element-wise.
type Distribution interface {
	// Mean of the distribution.
	Mean() *Node

	// Variance of the distribution, element-wise.
	Variance() *Node

	// Sample draws num independent samples, stacked on a new leading axis of
	// dimension num -- also for num=1, it is never squeezed.
	Sample(ctx *context.Context, num int) *Node

	// LogPDF returns the log-density of y, summed over the channels and
	// points axes. Leading axes (sample, batch) are preserved.
	LogPDF(y *Node) *Node

	// KL returns the Kullback-Leibler divergence KL(d||other), summed over
	// the channels and points axes.
	KL(other Distribution) *Node
}
