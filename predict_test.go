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

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/dist"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleWithRetryFirstTry(t *testing.T) {
	dist.Epsilon = 1e-6
	attempts := 0
	err := sampleWithRetry(func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1e-6, dist.Epsilon)
}

func TestSampleWithRetryEscalates(t *testing.T) {
	dist.Epsilon = 1e-6
	var seen []float64
	err := sampleWithRetry(func() error {
		seen = append(seen, dist.Epsilon)
		if dist.Epsilon < 0.99e-4 {
			return errors.New("singular covariance")
		}
		return nil
	})
	require.NoError(t, err)

	// Failed at 1e-6 and 1e-5, succeeded at 1e-4.
	require.Len(t, seen, 3)
	assert.InDelta(t, 1e-6, seen[0], 1e-12)
	assert.InDelta(t, 1e-5, seen[1], 1e-11)
	assert.InDelta(t, 1e-4, seen[2], 1e-10)
	assert.Equal(t, 1e-6, dist.Epsilon, "regularisation restored after success")
}

func TestSampleWithRetryGivesUp(t *testing.T) {
	dist.Epsilon = 1e-6
	failure := errors.New("still singular")
	attempts := 0
	err := sampleWithRetry(func() error {
		attempts++
		return failure
	})
	require.ErrorIs(t, err, failure)
	// One attempt per regularisation step: 1e-6, 1e-5, 1e-4 and 1e-3.
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 1e-6, dist.Epsilon, "regularisation restored after giving up")
}

func TestPredict(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	xc, yc, xt, _ := testSets(t, backend)
	model := unitGaussianModel()
	ctx := context.New()
	ctx.RngStateFromSeed(7)
	dist.Epsilon = 1e-6

	mean, variance, samples, err := Predict(backend, ctx, model, xc, yc, xt, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, 1e-6, dist.Epsilon)

	require.Equal(t, []int{4, 1, 7}, mean.Shape().Dimensions)
	require.Equal(t, []int{4, 1, 7}, variance.Shape().Dimensions)
	require.Equal(t, []int{3, 4, 1, 7}, samples.Shape().Dimensions)

	// A unit-Gaussian prediction has exact marginal moments, and its
	// noiseless samples collapse onto the mean.
	for _, v := range tensors.MustCopyFlatData[float32](mean) {
		assert.InDelta(t, 0, v, 1e-6)
	}
	for _, v := range tensors.MustCopyFlatData[float32](variance) {
		assert.InDelta(t, 1, v, 1e-6)
	}
	for _, v := range tensors.MustCopyFlatData[float64](samples) {
		assert.InDelta(t, 0, v, 0.05)
	}
}

func TestPredictValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()

	_, _, _, err := Predict(backend, ctx, nil, nil, nil, nil, 0, 0)
	require.Error(t, err)

	_, _, _, err = Predict(backend, ctx, unitGaussianModel(), nil, nil, nil, 0, 0)
	require.Error(t, err)
}
