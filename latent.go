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
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/neuralprocesses/coding"
	"github.com/gomlx/neuralprocesses/dist"
)

// Recursive helpers over encoded distributions: a distribution is either
// atomic (dist.Distribution) or a coding.Parallel of distributions, nested
// to any depth. Every helper preserves the Parallel structure -- same type,
// length and branch order in as out.

// sampleLatent draws num samples from pz. Parallel branches are sampled
// independently, each with its own randomness. The result always carries a
// leading sample axis of dimension num, also for num=1: squeezing it is the
// caller's business.
func sampleLatent(ctx *context.Context, pz any, num int) any {
	switch p := pz.(type) {
	case *coding.Parallel:
		return coding.NewParallel(xslices.Map(p.Elements(), func(branch any) any {
			return sampleLatent(ctx, branch, num)
		})...)
	case dist.Distribution:
		return p.Sample(ctx, num)
	}
	Panicf("cannot sample from a %T: expected a dist.Distribution or a coding.Parallel of them", pz)
	return nil
}

// klDivergence computes KL(q||p). For Parallel operands it is the sum of the
// branch KLs, matched by position; branch counts must agree.
func klDivergence(q, p any) *Node {
	switch qt := q.(type) {
	case *coding.Parallel:
		pt, ok := p.(*coding.Parallel)
		if !ok {
			Panicf("cannot compute KL between a %T and a %T", q, p)
		}
		if qt.Len() != pt.Len() {
			Panicf("cannot compute KL between Parallels of lengths %d and %d", qt.Len(), pt.Len())
		}
		if qt.Len() == 0 {
			// An empty sum would be zero, but an empty Parallel carries no
			// graph or dtype to build that zero from.
			Panicf("cannot compute KL between empty Parallels")
		}
		kl := klDivergence(qt.At(0), pt.At(0))
		for i := 1; i < qt.Len(); i++ {
			kl = Add(kl, klDivergence(qt.At(i), pt.At(i)))
		}
		return kl
	case dist.Distribution:
		pd, ok := p.(dist.Distribution)
		if !ok {
			Panicf("cannot compute KL between a %T and a %T", q, p)
		}
		return qt.KL(pd)
	}
	Panicf("cannot compute KL for a %T: expected a dist.Distribution or a coding.Parallel of them", q)
	return nil
}

// castSample casts a drawn sample -- a tensor, a tuple or a Parallel of
// them -- to the given dtype, element-wise.
func castSample(z any, dtype dtypes.DType) any {
	switch zt := z.(type) {
	case *Node:
		return ConvertDType(zt, dtype)
	case []*Node:
		return xslices.Map(zt, func(n *Node) *Node { return ConvertDType(n, dtype) })
	case *coding.Parallel:
		return coding.NewParallel(xslices.Map(zt.Elements(), func(branch any) any {
			return castSample(branch, dtype)
		})...)
	}
	Panicf("cannot cast a sample of type %T", z)
	return nil
}

// mustDistribution asserts the decoder produced an atomic distribution,
// which the objectives require to evaluate log-densities.
func mustDistribution(d any) dist.Distribution {
	dd, ok := d.(dist.Distribution)
	if !ok {
		Panicf("expected the decoder to produce a dist.Distribution, got %T", d)
	}
	return dd
}
