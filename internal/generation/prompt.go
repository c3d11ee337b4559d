package generation

import "strings"

// SystemPrompt is the instruction sent as the system message
func SystemPrompt() string {
	return "You are a helpful assistant who explains codebases to students.\n" +
		"Focus on clarity and simple language.\n" +
		"Highlight key files, functions, and architecture decisions.\n" +
		"If something is unclear from the context, say so and suggest where to look."
}

// UserPrompt wraps the context block and the question
func UserPrompt(contextBlock, question string) string {
	return "Here is some context from a GitHub repository:\n" +
		"<CONTEXT>\n" + strings.TrimSpace(contextBlock) + "\n</CONTEXT>\n\n" +
		"The student's question: " + strings.TrimSpace(question) + "\n\n" +
		"Please explain clearly what's going on, using simple language and pointing out key files,\n" +
		"functions, and architecture as needed. If code is referenced, mention file paths."
}
