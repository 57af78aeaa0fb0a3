package prompts

import "fmt"

// summaryMergeTemplate is the prompt for refreshing a project's rolling
// summary. Format verbs: prior summary, recent transcript excerpt.
const summaryMergeTemplate = `You maintain the long-term memory for a video editing project.
Merge the prior summary with the recent conversation excerpt into one
updated summary.

Retention priorities, highest first:
1. User preferences (style, pacing, tone, recurring requests)
2. Project decisions (structure, naming, chosen approaches)
3. Completed work
4. Pending tasks
5. Unresolved issues

Write plain bullet points, no headings. Keep the summary under 1000
words. Drop detail that no longer matters; never drop an unresolved
issue or a stated preference.

Prior summary:
%s

Recent conversation:
%s

Updated summary:`

// noPriorSummary stands in for the prior-summary slot on a project's
// first refresh.
const noPriorSummary = "(none yet)"

// SummaryMergePrompt returns the interpolated summary-refresh prompt.
func SummaryMergePrompt(existing, excerpt string) string {
	if existing == "" {
		existing = noPriorSummary
	}
	return fmt.Sprintf(summaryMergeTemplate, existing, excerpt)
}
