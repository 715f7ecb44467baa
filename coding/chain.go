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
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Chain composes coders sequentially: the (xz, z) pair produced by one stage
// becomes the (xc, yc) context of the next, with the target inputs xt shared
// by every stage. Encoders and decoders are typically Chains ending in a
// likelihood head.
type Chain struct {
	coders []Coder
}

var (
	_ Coder   = (*Chain)(nil)
	_ Tracker = (*Chain)(nil)
)

// NewChain creates a Chain from the given stages, applied in order.
func NewChain(coders ...Coder) *Chain {
	if len(coders) == 0 {
		Panicf("NewChain requires at least one coder")
	}
	return &Chain{coders: coders}
}

// Code implements Coder.
func (c *Chain) Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any) {
	xz, z = xc, yc
	for i, coder := range c.coders {
		xz, z = coder.Code(c.stageCtx(ctx, i), xz, z, xt, opts)
	}
	return
}

// CodeTrack implements Tracker, recording the (xz, z) after every stage.
func (c *Chain) CodeTrack(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any, h *Tracking) {
	h = &Tracking{Xt: xt, Stages: make([]TrackedStage, 0, len(c.coders))}
	xz, z = xc, yc
	for i, coder := range c.coders {
		xz, z = coder.Code(c.stageCtx(ctx, i), xz, z, xt, opts)
		h.Stages = append(h.Stages, TrackedStage{Coder: coder, Xz: xz, Z: z})
	}
	return
}

func (c *Chain) stageCtx(ctx *context.Context, i int) *context.Context {
	return ctx.In(fmt.Sprintf("stage_%d", i))
}

// String implements fmt.Stringer.
func (c *Chain) String() string {
	parts := make([]string, len(c.coders))
	for i, coder := range c.coders {
		parts[i] = fmt.Sprintf("%v", coder)
	}
	return "Chain(" + strings.Join(parts, ", ") + ")"
}

// CoderFunc adapts a plain function into a Coder, the same way
// http.HandlerFunc adapts handlers.
type CoderFunc func(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any)

// Code implements Coder by calling f.
func (f CoderFunc) Code(ctx *context.Context, xc, yc, xt any, opts Options) (xz, z any) {
	return f(ctx, xc, yc, xt, opts)
}
