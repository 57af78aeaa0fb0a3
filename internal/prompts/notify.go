package prompts

import (
	"fmt"
	"strings"
)

// notifyTemplate is the markdown body for run-completion notification
// mail. Format verbs: project, final response text, step count.
const notifyTemplate = `## Montage run finished: %s

%s

---

*Completed in %d model step(s).*`

// NotifyBody returns the markdown notification body for a completed
// run. The final response is truncated to keep mail digestible.
func NotifyBody(project, finalText string, steps int) string {
	const maxChars = 4000
	text := strings.TrimSpace(finalText)
	if len(text) > maxChars {
		text = text[:maxChars] + "\n\n*(truncated)*"
	}
	if text == "" {
		text = "*(no final response text)*"
	}
	return fmt.Sprintf(notifyTemplate, project, text, steps)
}
