//go:build property
// +build property

package identity_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/aigrc/pipeline/pkg/identity"
)

// TestStandardIDWindowCollapse verifies every timestamp inside one
// 10 ms window maps to the same ID.
func TestStandardIDWindowCollapse(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("IDs are constant within a flooring window", prop.ForAll(
		func(org, tool, asset string, ms int64, jitter int64) bool {
			base := time.UnixMilli(ms - ms%10)
			within := base.Add(time.Duration(jitter%10) * time.Millisecond)

			a := identity.StandardID(org, tool, "aigrc.scan.started", asset, base)
			b := identity.StandardID(org, tool, "aigrc.scan.started", asset, within)
			return a == b
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Int64Range(0, 1<<45),
		gen.Int64Range(0, 9),
	))

	properties.Property("generated IDs always validate", prop.ForAll(
		func(org, tool, asset string, ms int64) bool {
			id := identity.StandardID(org, tool, "aigrc.asset.registered", asset, time.UnixMilli(ms))
			return identity.Valid(id)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
		gen.Int64Range(0, 1<<45),
	))

	properties.TestingRun(t)
}

// TestHighFrequencyIDSequence verifies distinct sequence numbers never
// collide inside one millisecond.
func TestHighFrequencyIDSequence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sequence numbers separate same-millisecond events", prop.ForAll(
		func(instance, asset string, ms int64, seqA, seqB uint64) bool {
			ts := time.UnixMilli(ms)
			a := identity.HighFrequencyID(instance, "aigrc.enforcement.blocked", asset, ts, seqA)
			b := identity.HighFrequencyID(instance, "aigrc.enforcement.blocked", asset, ts, seqB)
			if seqA == seqB {
				return a == b
			}
			return a != b
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Int64Range(0, 1<<45),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
