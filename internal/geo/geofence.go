package geo

import (
	"fmt"

	"github.com/example/pet-ride/internal/models"
)

// DefaultRadiusM is the proximity a driver must be within to change job state.
const DefaultRadiusM = 200.0

// GeofenceError reports a rejected proximity check with the measured distance.
type GeofenceError struct {
	Target    string
	DistanceM float64
	RadiusM   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("too far from %s: %.0fm away, must be within %.0fm", e.Target, e.DistanceM, e.RadiusM)
}

// CheckGeofence returns nil when here is within radiusM of target, boundary
// inclusive. A non-positive radius uses DefaultRadiusM.
func CheckGeofence(targetName string, here, target models.Coord, radiusM float64) (float64, error) {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}
	d := Distance(here, target)
	if d > radiusM {
		return d, &GeofenceError{Target: targetName, DistanceM: d, RadiusM: radiusM}
	}
	return d, nil
}
