package engine

import (
	"fmt"
	"strings"

	"agp/pkg/bus"
)

// handleJobCommand intercepts the job-management chat commands so
// schedules can be managed without a round trip through the engine.
//
//	/schedule <name> <kind> <value> <message...>
//	/cancel <name>
//	/jobs
//
// Returns handled=false for everything else.
func (r *Runner) handleJobCommand(msg bus.InboundMessage) (string, bool) {
	if r.toolbox == nil {
		return "", false
	}

	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}

	fields := strings.Fields(content)
	switch fields[0] {
	case "/schedule":
		if len(fields) < 5 {
			return "Usage: /schedule <name> <once|interval|cron> <value> <message>", true
		}
		name, kind, value := fields[1], fields[2], fields[3]
		message := strings.Join(fields[4:], " ")
		if err := r.toolbox.ScheduleTask(name, message, kind, value, true); err != nil {
			return fmt.Sprintf("Could not schedule %q: %v", name, err), true
		}
		return fmt.Sprintf("Scheduled %q (%s: %s).", name, kind, value), true

	case "/cancel":
		if len(fields) != 2 {
			return "Usage: /cancel <name>", true
		}
		if !r.toolbox.CancelTask(fields[1]) {
			return fmt.Sprintf("No job named %q.", fields[1]), true
		}
		return fmt.Sprintf("Cancelled %q.", fields[1]), true

	case "/jobs":
		return r.toolbox.DescribeJobs(), true
	}

	return "", false
}
