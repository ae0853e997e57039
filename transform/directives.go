package transform

import (
	"strings"

	"github.com/hupe1980/layermesh/core"
)

var directivePrefixes = []struct {
	prefix string
	dir    core.Direction
}{
	{"FORWARD_TO:", core.Forward},
	{"FORWARD:", core.Forward},
	{"BACKWARD:", core.Backward},
	{"RESULT:", core.Terminal},
}

// ParseDirectives turns a directive-style reply into emissions, one per
// line starting with FORWARD:, BACKWARD: or RESULT: (case-insensitive).
// Text without any directive becomes a single emission in direction def.
func ParseDirectives(text string, def core.Direction) []core.Emission {
	var out []core.Emission
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		for _, d := range directivePrefixes {
			if strings.HasPrefix(upper, d.prefix) {
				body := strings.TrimSpace(line[len(d.prefix):])
				out = append(out, core.Emission{Direction: d.dir, Payload: []byte(body)})
				break
			}
		}
	}
	if len(out) == 0 {
		out = append(out, core.Emission{Direction: def, Payload: []byte(strings.TrimSpace(text))})
	}
	return out
}
