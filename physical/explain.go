package physical

import (
	"fmt"
	"strings"
)

// Explain renders the plan bottom-up, one operator per line, so the text
// reads in execution order: scan first, final operator last. Every line
// carries the operator's bound details so a plan can be inspected without
// running it.
func Explain(plan *Plan) string {
	var sb strings.Builder
	for _, op := range plan.Operators() {
		fmt.Fprintf(&sb, "%-8s %s\n", op.Name(), op.Explain())
	}
	return sb.String()
}
