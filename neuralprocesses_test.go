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

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/neuralprocesses/coding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoder records the arguments of its last Code call and returns a fixed
// (xz, z) pair.
type fakeCoder struct {
	gotXc, gotYc, gotXt any
	gotOpts             coding.Options
	xz, z               any
}

func (f *fakeCoder) Code(_ *context.Context, xc, yc, xt any, opts coding.Options) (any, any) {
	f.gotXc, f.gotYc, f.gotXt, f.gotOpts = xc, yc, xt, opts
	return f.xz, f.z
}

func TestCallWiresEncoderToDecoder(t *testing.T) {
	sample := new(Node)
	encoded := &fakeDist{sample: sample}
	enc := &fakeCoder{xz: "xz", z: encoded}
	dec := &fakeCoder{z: "prediction"}
	m := New(enc, dec)

	opts := &CallOptions{
		NumSamples: 3,
		Coding:     coding.Options{coding.OptionNoiseless: true, "custom": 7},
	}
	d := m.Call(context.New(), "xc", "yc", "xt", opts)
	require.Equal(t, "prediction", d)

	// The encoder sees everything but the noiseless option.
	assert.Equal(t, "xc", enc.gotXc)
	assert.Equal(t, "yc", enc.gotYc)
	assert.Equal(t, "xt", enc.gotXt)
	assert.False(t, enc.gotOpts.Noiseless())
	assert.Equal(t, 7, enc.gotOpts["custom"])

	// The decoder consumes the encoding and its sample, options intact.
	assert.Equal(t, "xz", dec.gotXc)
	assert.Same(t, sample, dec.gotYc)
	assert.Equal(t, "xt", dec.gotXt)
	assert.True(t, dec.gotOpts.Noiseless())

	assert.Equal(t, 3, encoded.sampledNum)
	assert.True(t, opts.Coding.Noiseless(), "caller options must not be mutated")
}

func TestCallDefaults(t *testing.T) {
	encoded := &fakeDist{sample: new(Node)}
	enc := &fakeCoder{z: encoded}
	dec := &fakeCoder{z: "prediction"}
	m := New(enc, dec)

	d := m.Call(context.New(), "xc", "yc", "xt", nil)
	require.Equal(t, "prediction", d)
	assert.Equal(t, 1, encoded.sampledNum)
	assert.NotNil(t, enc.gotOpts)
}

func TestCallAugmentsTargets(t *testing.T) {
	encoded := &fakeDist{sample: new(Node)}
	enc := &fakeCoder{z: encoded}
	dec := &fakeCoder{}
	m := New(enc, dec)

	aux := new(Node)
	m.Call(context.New(), "xc", "yc", "xt", &CallOptions{AuxT: aux})

	for _, got := range []any{enc.gotXt, dec.gotXt} {
		augmented, ok := got.(*coding.AugmentedInput)
		require.True(t, ok, "targets should arrive wrapped, got %T", got)
		assert.Equal(t, "xt", augmented.X)
		assert.Same(t, aux, augmented.Aux)
	}
}

func TestCallWithContexts(t *testing.T) {
	encoded := &fakeDist{sample: new(Node)}
	enc := &fakeCoder{z: encoded}
	m := New(enc, &fakeCoder{})

	m.CallWithContexts(context.New(), []ContextSet{
		{X: "x0", Y: "y0"},
		{X: "x1", Y: "y1"},
	}, "xt", nil)

	xp := enc.gotXc.(*coding.Parallel)
	yp := enc.gotYc.(*coding.Parallel)
	require.Equal(t, 2, xp.Len())
	assert.Equal(t, "x0", xp.At(0))
	assert.Equal(t, "x1", xp.At(1))
	assert.Equal(t, "y0", yp.At(0))
	assert.Equal(t, "y1", yp.At(1))
	assert.Equal(t, "xt", enc.gotXt)
}

func TestModelString(t *testing.T) {
	m := New(
		coding.NewChain(coding.DeterministicLikelihood{}),
		coding.HeterogeneousGaussianLikelihood{})
	s := m.String()
	assert.Contains(t, s, "Model(")
	assert.Contains(t, s, "DeterministicLikelihood()")
	assert.Contains(t, s, "HeterogeneousGaussianLikelihood()")
}
