package output

import "strings"

// Detector decides from the buffered lines whether the remote side is done.
// It must be a pure function of its input.
type Detector func(lines []string) bool

// SuffixDetector fires when any buffered line ends with suffix.
func SuffixDetector(suffix string) Detector {
	return func(lines []string) bool {
		for _, line := range lines {
			if strings.HasSuffix(line, suffix) {
				return true
			}
		}
		return false
	}
}

// ClientsGoneSuffix is what tmate prints when the last client disconnects.
const ClientsGoneSuffix = "0 client currently connected"

// ClientsGone is the default detector for tmate sessions.
var ClientsGone = SuffixDetector(ClientsGoneSuffix)

// Never is a detector that never fires.
func Never([]string) bool { return false }
