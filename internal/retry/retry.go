// Package retry computes retry intervals for the three retry
// strategies a tracker's job config may carry (§3, §4.6). Attempts are
// 0-indexed; every strategy clamps to max_interval on overflow.
package retry

import (
	"math"
	"time"

	"github.com/retrack-dev/engine/internal/types"
)

// Interval returns the delay before retry attempt for the given
// strategy. attempt is 0-indexed, matching the scheduler's
// retry_attempt counter before it is incremented.
func Interval(strategy types.RetryStrategy, attempt int) time.Duration {
	switch strategy.Kind {
	case types.RetryStrategyConstant:
		return strategy.Interval

	case types.RetryStrategyLinear:
		inc := strategy.Increment * time.Duration(attempt)
		total := strategy.Initial + inc
		if inc < 0 || total < strategy.Initial {
			// Overflowed the signed duration range.
			return strategy.MaxInterval
		}
		if strategy.MaxInterval > 0 && total > strategy.MaxInterval {
			return strategy.MaxInterval
		}
		return total

	case types.RetryStrategyExponential:
		factor := math.Pow(strategy.Multiplier, float64(attempt))
		totalF := float64(strategy.Initial) * factor
		if math.IsInf(totalF, 0) || math.IsNaN(totalF) || totalF > float64(math.MaxInt64) {
			return strategy.MaxInterval
		}
		total := time.Duration(totalF)
		if strategy.MaxInterval > 0 && total > strategy.MaxInterval {
			return strategy.MaxInterval
		}
		return total

	default:
		return 0
	}
}

// Exhausted reports whether attempt+1 exceeds the strategy's configured
// max_attempts (§4.6: "if retry_attempt + 1 > max_attempts").
func Exhausted(strategy types.RetryStrategy, attempt int) bool {
	return attempt+1 > strategy.MaxAttempts
}
