// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"context"
	"time"

	"github.com/go-lpc/e7awg/hw"
	"golang.org/x/sync/errgroup"
)

// WaitForAll waits for the provided AWGs and capture units to stop,
// polling both kinds of units concurrently.
// The first error cancels the other wait.
func (c *Coordinator) WaitForAll(ctx context.Context, timeout time.Duration, awgs []hw.AWG, units []hw.CaptureUnit) error {
	grp, ctx := errgroup.WithContext(ctx)
	if len(awgs) > 0 {
		grp.Go(func() error {
			return c.WaitForAwgsToStop(ctx, timeout, awgs...)
		})
	}
	if len(units) > 0 {
		grp.Go(func() error {
			return c.WaitForCaptureUnitsToStop(ctx, timeout, units...)
		})
	}
	return grp.Wait()
}
