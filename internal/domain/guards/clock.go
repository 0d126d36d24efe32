package guards

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with minute resolution
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" boundary
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return Clock{}, fmt.Errorf("malformed time boundary %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("malformed time boundary %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("malformed time boundary %q: bad minute", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// offset returns the boundary as a duration since midnight
func (c Clock) offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// timeOfDay returns t's wall-clock position since local midnight in loc
func timeOfDay(t time.Time, loc *time.Location) time.Duration {
	lt := t.In(loc)
	return time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second +
		time.Duration(lt.Nanosecond())
}
