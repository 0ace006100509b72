package jobs

import (
	"fmt"
	"strings"

	"docbrief-backend/internal/parse"
)

const systemPrompt = "You are a technical writer who turns dense documents into clear, accurate briefs. Respond with plain text only."

const maxPromptChars = 24000

func clipText(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	return text[:maxPromptChars]
}

func summaryPrompt(doc parse.Document) string {
	var b strings.Builder
	b.WriteString("Write a plain-language summary of the following document in at most four paragraphs.\n")
	if doc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	}
	if len(doc.Inventors) > 0 {
		fmt.Fprintf(&b, "Credited to: %s\n", strings.Join(doc.Inventors, ", "))
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(clipText(doc.FullText))
	return b.String()
}

func keyPointsPrompt(doc parse.Document) string {
	return "List the eight most important points from the document below as a bullet list. Keep each bullet under 25 words.\n\nDocument:\n" + clipText(doc.FullText)
}

func glossaryPrompt(doc parse.Document) string {
	return "Extract up to ten domain-specific terms from the document below and define each in one sentence for a general reader. Format as 'Term: definition' lines.\n\nDocument:\n" + clipText(doc.FullText)
}

func heroImagePrompt(doc parse.Document) string {
	title := doc.Title
	if title == "" {
		title = "a technical document"
	}
	return fmt.Sprintf("A clean, modern cover illustration for a document titled %q. Flat design, muted colors, no text in the image.", title)
}

func sectionImagePrompt(section parse.Section) string {
	excerpt := section.Text
	if len(excerpt) > 600 {
		excerpt = excerpt[:600]
	}
	return fmt.Sprintf("A simple schematic illustration for a document section titled %q. The section covers: %s. Flat design, no text in the image.", section.Heading, excerpt)
}
