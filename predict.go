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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/coding"
	"github.com/gomlx/neuralprocesses/dist"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// maxRetryEpsilon bounds the regularisation escalation of sampleWithRetry:
// past this value the last failure is returned.
const maxRetryEpsilon = 1e-3

// Predict runs the model on a context set and returns, for the target
// inputs xt, the marginal predictive mean and variance estimated from
// predNumSamples samples (law of total variance over the per-sample
// moments), together with numSamples noiseless samples of the predictive
// function, shaped `[numSamples, batch, channels, points]`.
//
// predNumSamples and numSamples values < 1 default to 50 and 5.
//
// Sampling a near-singular predictive distribution can fail numerically;
// Predict retries with dist.Epsilon scaled up tenfold per attempt, up to
// 1e-3, and always restores dist.Epsilon before returning. Because of that
// temporary mutation of process-wide state, concurrent Predict calls must
// be serialized by the caller.
func Predict(backend backends.Backend, ctx *context.Context, model *Model, xc, yc, xt *tensors.Tensor, predNumSamples, numSamples int) (mean, variance, samples *tensors.Tensor, err error) {
	if backend == nil || model == nil {
		return nil, nil, nil, errors.New("Predict requires a backend and a model")
	}
	if xc == nil || yc == nil || xt == nil {
		return nil, nil, nil, errors.Errorf("Predict requires xc, yc and xt, got (%v, %v, %v)", xc, yc, xt)
	}
	if predNumSamples < 1 {
		predNumSamples = 50
	}
	if numSamples < 1 {
		numSamples = 5
	}

	// Marginal moments by Monte Carlo.
	err = exceptions.TryCatch[error](func() {
		results := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, xc, yc, xt *Node) []*Node {
			pred := mustDistribution(model.Call(ctx, xc, yc, xt, &CallOptions{NumSamples: predNumSamples}))
			m1 := ReduceMean(pred.Mean(), 0)
			m2 := ReduceMean(Add(pred.Variance(), Square(pred.Mean())), 0)
			return []*Node{m1, Sub(m2, Square(m1))}
		}, xc, yc, xt)
		mean, variance = results[0], results[1]
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// Noiseless samples, with adaptive regularisation.
	working := yc.DType()
	err = sampleWithRetry(func() error {
		return exceptions.TryCatch[error](func() {
			samples = context.MustExecOnce(backend, ctx, func(ctx *context.Context, xc, yc, xt *Node) *Node {
				callOpts := &CallOptions{
					NumSamples:     numSamples,
					DTypeEncSample: working,
					Coding: coding.Options{
						coding.OptionNoiseless: true,
						coding.OptionDTypeLik:  dtypes.Float64,
					},
				}
				pred := mustDistribution(model.Call(ctx, xc, yc, xt, callOpts))
				s := pred.Sample(ctx, 1)
				// Drop the single-draw axis; the sample axis of the call remains.
				return Reshape(s, s.Shape().Dimensions[1:]...)
			}, xc, yc, xt)
		})
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return mean, variance, samples, nil
}

// sampleWithRetry runs sample, escalating dist.Epsilon tenfold after each
// failure until sample succeeds or the escalation passes maxRetryEpsilon,
// in which case the last failure is returned. dist.Epsilon is restored on
// every exit path.
func sampleWithRetry(sample func() error) error {
	epsilonBefore := dist.Epsilon
	defer func() { dist.Epsilon = epsilonBefore }()
	for {
		err := sample()
		if err == nil {
			return nil
		}
		dist.Epsilon *= 10
		if dist.Epsilon > maxRetryEpsilon {
			return err
		}
		klog.V(1).Infof("neuralprocesses: sampling failed (%v), retrying with regularisation %g", err, dist.Epsilon)
	}
}
