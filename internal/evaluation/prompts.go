package evaluation

import (
	"fmt"
	"strings"
)

// FallbackSummary replaces an empty summary response.
const FallbackSummary = "Summary unavailable: the model returned an empty response. Review the CV and project scores above."

func cvQuery(jobTitle string) string {
	return fmt.Sprintf("Job description, required skills and CV scoring rubric for the %s role", jobTitle)
}

const projectQuery = "Case study brief, project requirements and project report scoring rubric"

func cvPrompt(jobTitle, refs, cv string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are screening a candidate for the role of %s.\n\n", jobTitle)
	b.WriteString("Reference material (job description and CV rubric):\n")
	b.WriteString(refs)
	b.WriteString("\n\nCandidate CV:\n")
	b.WriteString(cv)
	b.WriteString("\n\nScore how well the CV matches the role as a decimal between 0 and 1, weighting technical skills, ")
	b.WriteString("experience level, relevant achievements and cultural fit as the rubric describes. ")
	b.WriteString(`Respond with JSON only: {"score": <number 0-1>, "feedback": "<2-4 sentences>"}`)
	return b.String()
}

func projectPrompt(refs, report string) string {
	var b strings.Builder
	b.WriteString("You are grading a candidate's project report against a case study.\n\n")
	b.WriteString("Reference material (case study brief and project rubric):\n")
	b.WriteString(refs)
	b.WriteString("\n\nProject report:\n")
	b.WriteString(report)
	b.WriteString("\n\nScore the report from 1 to 5 on correctness, code quality, resilience, documentation and creativity ")
	b.WriteString("as the rubric describes. ")
	b.WriteString(`Respond with JSON only: {"score": <number 1-5>, "feedback": "<2-4 sentences>"}`)
	return b.String()
}

func summaryPrompt(jobTitle string, cvMatchRate float64, cvFeedback string, projectScore float64, projectFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", jobTitle)
	fmt.Fprintf(&b, "CV match rate (0-1): %.2f\nCV feedback: %s\n", cvMatchRate, cvFeedback)
	fmt.Fprintf(&b, "Project score (1-5): %.1f\nProject feedback: %s\n\n", projectScore, projectFeedback)
	b.WriteString("Write one paragraph of 3-5 sentences summarising the candidate's strengths, gaps and a hiring recommendation. ")
	b.WriteString("Plain text only.")
	return b.String()
}
