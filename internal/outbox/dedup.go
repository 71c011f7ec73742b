package outbox

import "math"

// ProximityThresholdMeters is the minimum distance between a candidate
// creation point and any known resource before a new create is allowed.
const ProximityThresholdMeters = 30.0

const earthRadiusMeters = 6371000.0

// RemoteAttachment describes an attachment the backend already confirmed for
// a collection, as far as the caller knows at decision time.
type RemoteAttachment struct {
	ID      string
	ActorID string
}

// NearbyResource is a known resource near a candidate creation point.
type NearbyResource struct {
	ID  string
	Lat float64
	Lng float64
}

// CanAddAttachment decides whether an actor may queue another photo for a
// collection. An actor with a confirmed remote attachment in the collection
// is refused outright. Among pending work, a second in-flight submission is
// tolerated (a retry of the first may still be queued) but a third is not.
// Callers are expected to gate enqueues on this; the queue itself does not.
func CanAddAttachment(collectionID, actorID string, pending []MutationRecord, remote []RemoteAttachment) bool {
	for _, attachment := range remote {
		if attachment.ActorID == actorID {
			return false
		}
	}
	count := 0
	for _, record := range pending {
		if record.Kind != KindAddAttachment {
			continue
		}
		if record.CollectionID == collectionID && record.ActorID == actorID {
			count++
		}
	}
	return count <= 1
}

// CanReplaceAttachment decides whether an actor may queue a replacement for
// an attachment. Attachments that only exist locally (never confirmed by the
// backend) are always replaceable. For confirmed attachments the ownership
// answer wins when known; when ownership cannot be determined locally the
// policy is permissive and lets the backend make the final call.
func CanReplaceAttachment(attachmentID, actorID string, isKnownOwner *bool) bool {
	if IsLocalID(attachmentID) {
		return true
	}
	if isKnownOwner != nil {
		return *isKnownOwner
	}
	return true
}

// CanCreateAt refuses a new resource when any known resource lies within
// ProximityThresholdMeters of the candidate point, independent of actor.
func CanCreateAt(lat, lng float64, nearby []NearbyResource) bool {
	for _, resource := range nearby {
		if haversineMeters(lat, lng, resource.Lat, resource.Lng) < ProximityThresholdMeters {
			return false
		}
	}
	return true
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
