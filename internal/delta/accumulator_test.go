package delta

import (
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshots(values ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq2[string, error]) ([]string, error) {
	t.Helper()
	var out []string
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func TestAccumulatorEmitsSuffixes(t *testing.T) {
	var acc Accumulator

	d, ok := acc.Next("Hel")
	require.True(t, ok)
	assert.Equal(t, "Hel", d)

	_, ok = acc.Next("Hel")
	assert.False(t, ok)

	d, ok = acc.Next("Hello, wörld")
	require.True(t, ok)
	assert.Equal(t, "lo, wörld", d)
	assert.Equal(t, "Hello, wörld", acc.Content())
}

func TestDeltasConcatenateToFinalSnapshot(t *testing.T) {
	steps := []string{"", "The", "The quick", "The quick", "The quick brown", `The quick brown {"fox":true}`}
	deltas, err := collect(t, Deltas(snapshots(steps...)))
	require.NoError(t, err)

	assert.Equal(t, []string{"The", " quick", " brown", ` {"fox":true}`}, deltas)
	assert.Equal(t, steps[len(steps)-1], strings.Join(deltas, ""))
}

func TestDeltasForwardSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := func(yield func(string, error) bool) {
		if !yield("partial", nil) {
			return
		}
		yield("", boom)
	}

	deltas, err := collect(t, Deltas(src))
	assert.Equal(t, []string{"partial"}, deltas)
	assert.ErrorIs(t, err, boom)
}

func TestDeltasStopWhenConsumerStops(t *testing.T) {
	pulled := 0
	src := func(yield func(string, error) bool) {
		for _, s := range []string{"a", "ab", "abc"} {
			pulled++
			if !yield(s, nil) {
				return
			}
		}
	}
	for range Deltas(src) {
		break
	}
	assert.Equal(t, 1, pulled)
}
