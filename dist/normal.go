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

const log2Pi = 1.8378770664093453 // log(2*pi)

// Normal is a multi-output Gaussian with diagonal covariance, parameterized
// by element-wise mean and variance of identical shapes.
type Normal struct {
	mean, variance *Node
}

// Compile-time check.
var _ Distribution = (*Normal)(nil)

// NewNormal creates a diagonal-covariance Gaussian from element-wise mean and
// variance. Both must have the same shape and a float dtype.
func NewNormal(mean, variance *Node) *Normal {
	if !mean.Shape().Equal(variance.Shape()) {
		Panicf("NewNormal: mean (%s) and variance (%s) must have the same shape",
			mean.Shape(), variance.Shape())
	}
	if !mean.DType().IsFloat() {
		Panicf("NewNormal: dtype %s is not a float type", mean.DType())
	}
	return &Normal{mean: mean, variance: variance}
}

// Mean implements Distribution.
func (n *Normal) Mean() *Node { return n.mean }

// Variance implements Distribution.
func (n *Normal) Variance() *Node { return n.variance }

// Sample draws num samples, stacked on a new leading axis. The variance is
// regularised by Epsilon, so a zero-variance ("noiseless") Normal still
// samples, collapsing onto its mean.
func (n *Normal) Sample(ctx *context.Context, num int) *Node {
	if num < 1 {
		Panicf("Normal.Sample: num must be >= 1, got %d", num)
	}
	g := n.mean.Graph()
	dims := append([]int{num}, n.mean.Shape().Dimensions...)
	noise := ctx.RandomNormal(g, shapes.Make(n.mean.DType(), dims...))
	stddev := Sqrt(AddScalar(n.variance, Epsilon))
	return Add(InsertAxes(n.mean, 0), Mul(noise, InsertAxes(stddev, 0)))
}

// LogPDF returns the log-density of y under the Gaussian, summed over the
// channels and points axes. If y has one axis less than the mean -- targets
// evaluated against per-sample predictions -- it is broadcast across the
// leading sample axis.
func (n *Normal) LogPDF(y *Node) *Node {
	for y.Rank() < n.mean.Rank() {
		y = InsertAxes(y, 0)
	}
	y = ConvertDType(y, n.mean.DType())
	lp := Add(Log(n.variance), Div(Square(Sub(y, n.mean)), n.variance))
	lp = AddScalar(lp, log2Pi)
	return MulScalar(reduceOutputAxes(lp), -0.5)
}

// KL returns KL(n||other), which requires other to also be a Normal, summed
// over the channels and points axes.
func (n *Normal) KL(other Distribution) *Node {
	p, ok := other.(*Normal)
	if !ok {
		Panicf("Normal.KL: no closed form against %T", other)
	}
	// 1/2 * (log(vp/vq) + (vq + (mq-mp)^2)/vp - 1), element-wise.
	kl := Sub(Log(p.variance), Log(n.variance))
	kl = Add(kl, Div(Add(n.variance, Square(Sub(n.mean, p.mean))), p.variance))
	kl = AddScalar(kl, -1.0)
	return MulScalar(reduceOutputAxes(kl), 0.5)
}

// reduceOutputAxes sums over the channels and points axes (the trailing two),
// keeping batch and sample axes.
func reduceOutputAxes(x *Node) *Node {
	if x.Rank() < 2 {
		Panicf("distribution statistics must have rank >= 2 ([..., channels, points]), got shape %s", x.Shape())
	}
	return ReduceSum(x, x.Rank()-2, x.Rank()-1)
}
