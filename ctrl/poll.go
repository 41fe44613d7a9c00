// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"context"
	"time"
)

// poll runs check at the poll interval until it reports true, the
// timeout expires or ctx is done.
// The lock is held by op during each check only, unless op already
// held it when poll was called.
func (c *Coordinator) poll(ctx context.Context, op *owner, timeout time.Duration, check func(rw *regio) bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	tck := time.NewTicker(c.cfg.poll)
	defer tck.Stop()

	for {
		var ok bool
		err := c.run(op, func(rw *regio) error {
			ok = check(rw)
			return nil
		})
		switch {
		case err != nil:
			return false, err
		case ok:
			return true, nil
		case !time.Now().Before(deadline):
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-tck.C:
		}
	}
}
