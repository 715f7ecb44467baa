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
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/coding"
	"github.com/gomlx/neuralprocesses/dist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDist is a stand-in distribution for dispatch tests: it hands out fixed
// nodes and records how it was used.
type fakeDist struct {
	sample, kl *Node

	sampledNum int
	klAgainst  dist.Distribution
}

var _ dist.Distribution = (*fakeDist)(nil)

func (f *fakeDist) Mean() *Node     { return nil }
func (f *fakeDist) Variance() *Node { return nil }
func (f *fakeDist) Sample(_ *context.Context, num int) *Node {
	f.sampledNum = num
	return f.sample
}
func (f *fakeDist) LogPDF(*Node) *Node { return nil }
func (f *fakeDist) KL(other dist.Distribution) *Node {
	f.klAgainst = other
	return f.kl
}

func TestSampleLatentPreservesStructure(t *testing.T) {
	ctx := context.New()
	fa := &fakeDist{sample: new(Node)}
	fb := &fakeDist{sample: new(Node)}
	pz := coding.NewParallel(fa, coding.NewParallel(fb))

	z := sampleLatent(ctx, pz, 4)

	zp := z.(*coding.Parallel)
	require.Equal(t, 2, zp.Len())
	assert.Same(t, fa.sample, zp.At(0))
	inner := zp.At(1).(*coding.Parallel)
	require.Equal(t, 1, inner.Len())
	assert.Same(t, fb.sample, inner.At(0))
	assert.Equal(t, 4, fa.sampledNum)
	assert.Equal(t, 4, fb.sampledNum)
}

func TestSampleLatentRejectsUnknownTypes(t *testing.T) {
	require.Panics(t, func() { sampleLatent(context.New(), "not a distribution", 1) })
}

func TestKLDivergenceDispatch(t *testing.T) {
	fa := &fakeDist{kl: new(Node)}
	pa := &fakeDist{}

	kl := klDivergence(coding.NewParallel(fa), coding.NewParallel(pa))
	require.Same(t, fa.kl, kl)
	assert.Same(t, dist.Distribution(pa), fa.klAgainst)

	kl = klDivergence(fa, pa)
	require.Same(t, fa.kl, kl)

	require.Panics(t, func() {
		klDivergence(coding.NewParallel(fa, pa), coding.NewParallel(fa))
	}, "branch counts must agree")
	require.Panics(t, func() {
		klDivergence(coding.NewParallel(fa), pa)
	}, "structure mismatch")
	require.Panics(t, func() {
		klDivergence(coding.NewParallel(), coding.NewParallel())
	}, "empty Parallels have no KL")
	require.Panics(t, func() { klDivergence("q", "p") })
}

func TestKLDivergenceSumsBranches(t *testing.T) {
	graphtest.RunTestGraphFn(t, "sum over branches",
		func(g *Graph) (inputs, outputs []*Node) {
			q := func() dist.Distribution {
				return dist.NewNormal(Const(g, [][]float64{{0}}), Const(g, [][]float64{{1}}))
			}
			p := func() dist.Distribution {
				return dist.NewNormal(Const(g, [][]float64{{1}}), Const(g, [][]float64{{2}}))
			}
			kl := klDivergence(coding.NewParallel(q(), q()), coding.NewParallel(p(), p()))
			return nil, []*Node{kl}
		}, []any{
			// Twice log(2)/2.
			0.6931471805599453,
		}, 1e-9)
}

func TestCastSample(t *testing.T) {
	graphtest.RunTestGraphFn(t, "tensors, tuples and Parallels",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, []float32{1, 2})
			single := castSample(x, dtypes.Float64).(*Node)
			tuple := castSample([]*Node{x, x}, dtypes.Float64).([]*Node)
			parallel := castSample(coding.NewParallel(x), dtypes.Float64).(*coding.Parallel)
			require.Equal(t, dtypes.Float64, tuple[1].DType())
			return []*Node{x}, []*Node{single, parallel.At(0).(*Node)}
		}, []any{
			[]float64{1, 2},
			[]float64{1, 2},
		}, 1e-9)

	require.Panics(t, func() { castSample("sample", dtypes.Float64) })
}

func TestMustDistribution(t *testing.T) {
	f := &fakeDist{}
	require.Equal(t, dist.Distribution(f), mustDistribution(f))
	require.Panics(t, func() { mustDistribution(coding.NewParallel(f)) })
}
