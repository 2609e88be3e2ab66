// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package spool

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Hooks satisfies the sqlhooks.Hooks interface
type Hooks struct{}

type beginKey struct{}

// Before logs the query with its args and stores the start timestamp on
// the context.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	cclog.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

// After logs the elapsed time since the Before hook.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		cclog.Debugf("Took: %s", time.Since(begin))
	}
	return ctx, nil
}
