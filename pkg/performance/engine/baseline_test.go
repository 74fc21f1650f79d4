// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antimetal/agent/pkg/performance/engine"
)

func TestBaseline_AverageOfUnknownKeyReturnsFalse(t *testing.T) {
	b := engine.NewBaseline()
	_, ok := b.Average("missing")
	assert.False(t, ok)
}

func TestBaseline_AddAccumulatesMean(t *testing.T) {
	b := engine.NewBaseline()
	b.Add("cpu.0.user", 10)
	b.Add("cpu.0.user", 20)
	b.Add("cpu.0.user", 30)

	avg, ok := b.Average("cpu.0.user")
	assert.True(t, ok)
	assert.Equal(t, 20.0, avg)
	assert.Equal(t, uint64(3), b.Count("cpu.0.user"))
}

func TestBaseline_KeysAreIndependent(t *testing.T) {
	b := engine.NewBaseline()
	b.Add("a", 5)
	b.Add("b", 100)

	a, _ := b.Average("a")
	bb, _ := b.Average("b")
	assert.Equal(t, 5.0, a)
	assert.Equal(t, 100.0, bb)
}

func TestBaseline_ResetClearsAllEntries(t *testing.T) {
	b := engine.NewBaseline()
	b.Add("a", 5)
	b.Reset()

	_, ok := b.Average("a")
	assert.False(t, ok)
	assert.Zero(t, b.Count("a"))
}
