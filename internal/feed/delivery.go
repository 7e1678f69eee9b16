package feed

import "fmt"

// DefaultCelebrityThreshold is the follower count above which an author is
// served by the pull path.
const DefaultCelebrityThreshold int64 = 10000

// DeliveryMode is decided once per post and never revisited.
type DeliveryMode uint8

const (
	// DeliveryPush writes the post into every active follower's timeline.
	DeliveryPush DeliveryMode = iota + 1
	// DeliveryPull leaves the post in the author index to be merged at read time.
	DeliveryPull
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryPush:
		return "pushed"
	case DeliveryPull:
		return "pull-pending"
	default:
		return fmt.Sprintf("delivery(%d)", uint8(m))
	}
}

// ParseDeliveryMode is the inverse of DeliveryMode.String.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch s {
	case "pushed":
		return DeliveryPush, nil
	case "pull-pending":
		return DeliveryPull, nil
	}
	return 0, fmt.Errorf("unknown delivery mode %q", s)
}

func (m DeliveryMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *DeliveryMode) UnmarshalText(b []byte) error {
	v, err := ParseDeliveryMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Classify picks the delivery mode from the author's current follower count.
// An author exactly at the threshold is still pushed.
func Classify(followerCount, threshold int64) DeliveryMode {
	if followerCount > threshold {
		return DeliveryPull
	}
	return DeliveryPush
}
