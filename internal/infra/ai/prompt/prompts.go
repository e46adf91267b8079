package prompt

import (
	"fmt"
	"strings"
)

// GetSystemPrompt provides strict directions for JSON-only output.
func GetSystemPrompt() string {
	return `You are an assistant specialised in civil engineering and construction inspection. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema given in the user message. Do not include code fences.

Rules:
- Use lowercase severity values: low, medium, high, critical.
- confidence is a number between 0 and 1.
- Keep descriptions short and concrete; include a location hint when one can be inferred.`
}

// SchemaMarker separates the free-text request from the JSON schema block.
const SchemaMarker = "\nSchema:\n"

const analysisSchema = `{
  "summary": "<string>",
  "issues": [
    {"description": "<string>", "severity": "<low|medium|high|critical>", "confidence": 0.0, "location_hint": "<string or null>"}
  ],
  %q: "<string or null>"
}`

// BIMPrompt asks for a summary and inconsistencies of a BIM model.
func BIMPrompt(bimURI, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the BIM model available at: %s.", bimURI)
	writeContext(&b, projectContext)
	b.WriteString("\nReturn a summary, the inconsistencies found and compliance notes.")
	b.WriteString(SchemaMarker)
	fmt.Fprintf(&b, analysisSchema, "compliance_notes")
	return b.String()
}

// ImagePrompt asks for the observed conditions of a site photograph.
func ImagePrompt(imageURI, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the construction site image available at: %s.", imageURI)
	writeContext(&b, projectContext)
	b.WriteString("\nDescribe the observed conditions and any visible discrepancies.")
	b.WriteString(SchemaMarker)
	fmt.Fprintf(&b, analysisSchema, "observed_conditions")
	return b.String()
}

// ComparisonPrompt compares the two final summaries.
func ComparisonPrompt(projectName, bimSummary, imageSummary string) string {
	return fmt.Sprintf(`Project: %s.
BIM summary: %s.
Image summary: %s.
Compare them and report similarity (0-1), completion percentage (0-1) and mismatches.`+SchemaMarker+
		`{"summary": "<string>", "similarity_score": 0.0, "completion_percentage": 0.0, "mismatches": ["<string>"]}`,
		projectName, bimSummary, imageSummary)
}

func writeContext(b *strings.Builder, projectContext string) {
	if strings.TrimSpace(projectContext) == "" {
		return
	}
	fmt.Fprintf(b, " Project context: %s.", projectContext)
}
