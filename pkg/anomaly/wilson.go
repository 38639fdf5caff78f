package anomaly

import (
	"fmt"
	"math"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
)

// InsufficientPeersError reports a peer set smaller than the configured minimum.
type InsufficientPeersError struct {
	Have int
	Need int
}

func (e *InsufficientPeersError) Error() string {
	return fmt.Sprintf("insufficient peers: %d (minimum required: %d)", e.Have, e.Need)
}

func (e *InsufficientPeersError) Is(target error) bool {
	return target == common.ErrInsufficientPeers
}

// ZScore returns the two-sided standard normal quantile for a confidence level.
func ZScore(level float64) float64 {
	return math.Sqrt2 * math.Erfinv(level)
}

// WilsonInterval returns the Wilson score interval of count successes in
// total trials at the given z. An empty sample yields [0,1].
func WilsonInterval(count, total int, z float64) (float64, float64) {
	if total == 0 {
		return 0, 1
	}
	n := float64(total)
	p := float64(count) / n
	z2 := z * z

	denominator := 1 + z2/n
	center := (p + z2/(2*n)) / denominator
	margin := (z / denominator) * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	return math.Max(0, center-margin), math.Min(1, center+margin)
}
