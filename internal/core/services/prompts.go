package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
)

// dateLayout renders dates the way the prompts expect them, e.g. "Mon Jan 2, 2006".
const dateLayout = "Mon Jan 2, 2006"

func todayString(now time.Time) string {
	return now.Format(dateLayout)
}

func researchBriefPrompt(query string, now time.Time) string {
	return fmt.Sprintf(`You will be given a research request from a user. Translate it into a detailed, concrete research brief that will guide the research.

Today's date is %s.

User request:
<request>
%s
</request>

Guidelines:
1. Keep every detail and constraint the user stated.
2. Mark dimensions the user left open as open instead of inventing them.
3. Prefer primary and official sources when they exist.
4. Write the brief in the first person, as if the user wrote it.

Respond with the research brief only.`, todayString(now), query)
}

func draftReportPrompt(brief string, now time.Time) string {
	return fmt.Sprintf(`Based on your own knowledge, write a first draft report for the research brief below. Use Markdown headings and keep claims you are unsure about explicitly marked as unverified.

Today's date is %s.

<research_brief>
%s
</research_brief>

Respond with the draft report only.`, todayString(now), brief)
}

func supervisorPrompt(brief, draft string, notes []string, maxConcurrent, maxIterations int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a research supervisor. Your job is to improve a draft report by delegating research with the tools you have. Today's date is %s.

Tools:
- ConductResearch: delegate one focused sub-topic to a research worker. You may issue up to %d ConductResearch calls in one response; they run in parallel.
- think_tool: record a short reflection before or after delegating.
- refine_draft_report: fold the gathered findings into the draft.
- ResearchComplete: stop when the draft already answers the brief.

Rules:
- Decide everything in this single response; you will not be called again.
- Use no more than %d tool calls in total.
- Each research topic must be self-contained, since workers cannot see each other's topics.
- Call refine_draft_report when you delegated research, so the findings reach the draft.

`, todayString(now), maxConcurrent, maxIterations)

	fmt.Fprintf(&b, "Here is the draft report: %s\n\n", draft)
	fmt.Fprintf(&b, "<research_brief>\n%s\n</research_brief>\n", brief)
	if len(notes) > 0 {
		fmt.Fprintf(&b, "\n<notes>\n%s\n</notes>\n", strings.Join(notes, "\n"))
	}
	return b.String()
}

func researcherPrompt(topic string, sources []domain.SearchResult, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a research assistant. Research the topic below as thoroughly as you can and write down every relevant fact you find, together with its source when you know it.

Today's date is %s.

<topic>
%s
</topic>
`, todayString(now), topic)
	if len(sources) > 0 {
		b.WriteString("\n<search_results>\n")
		for i, r := range sources {
			fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.Link, r.Snippet)
		}
		b.WriteString("</search_results>\n\nPrefer these sources and cite them by URL.\n")
	}
	b.WriteString("\nRespond with your research notes only.")
	return b.String()
}

func compressResearchPrompt(topic, rawNotes string, now time.Time) string {
	return fmt.Sprintf(`You have gathered research notes on a topic. Clean them up: remove repetition and irrelevant material but keep every relevant fact and source verbatim. Do not summarise away details.

Today's date is %s.

<topic>
%s
</topic>

<notes>
%s
</notes>

Respond with the cleaned findings, followed by a "Sources" list.`, todayString(now), topic, rawNotes)
}

func refineDraftPrompt(brief, findings, draft string, now time.Time) string {
	return fmt.Sprintf(`Refine the draft report using the new findings. Keep what is still correct, fix what the findings contradict and add what they contribute.

Today's date is %s.

<research_brief>
%s
</research_brief>

<findings>
%s
</findings>

<draft_report>
%s
</draft_report>

Respond with the refined draft report only.`, todayString(now), brief, findings, draft)
}

func finalReportPrompt(brief, findings, draft string, now time.Time) string {
	return fmt.Sprintf(`Write the final, comprehensive report for the research brief. Use the findings and the draft. Structure it with Markdown headings, cite sources inline as [n] and end with a "Sources" section.

Today's date is %s.

<research_brief>
%s
</research_brief>

<findings>
%s
</findings>

<draft_report>
%s
</draft_report>`, todayString(now), brief, findings, draft)
}
