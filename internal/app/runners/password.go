package runners

import (
	"strconv"
	"unicode/utf8"

	"github.com/gocrave/runner-api/internal/domain"
)

const minTempPasswordLen = 8

// tempPassword returns the caller's password when it is long enough, otherwise a
// bootstrap secret of the form GC@<runnerId><0-999>. The synthesized form is low entropy
// and only meant to survive until the runner's first forced password change.
func tempPassword(requested string, id domain.RunnerID, intn func(int) int) string {
	if utf8.RuneCountInString(requested) >= minTempPasswordLen {
		return requested
	}
	return "GC@" + string(id) + strconv.Itoa(intn(1000))
}
