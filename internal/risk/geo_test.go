package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	nairobi := Location{Latitude: -1.2864, Longitude: 36.8172}
	mombasa := Location{Latitude: -4.0435, Longitude: 39.6682}
	lagos := Location{Latitude: 6.5244, Longitude: 3.3792}

	assert.InDelta(t, 0, distanceKm(nairobi, nairobi), 0.001)
	assert.InDelta(t, 440, distanceKm(nairobi, mombasa), 15)
	assert.InDelta(t, 3820, distanceKm(nairobi, lagos), 60)
	assert.InDelta(t, distanceKm(lagos, nairobi), distanceKm(nairobi, lagos), 0.001)
}
