package agent

import (
	"fmt"
	"strings"

	"dataanalyst/internal/sandbox"
)

// DefaultSystemPrompt is sent with every model call unless overridden.
const DefaultSystemPrompt = `You are an expert data scientist. You can:
- Analyze data from uploaded files (.csv, .xlsx, .txt, .doc, .docx, .pdf, images).
- Perform statistical analysis (mean, median, correlations) and generate insights.
- Create visualizations (bar, line, scatter plots) based on data.
- Answer questions about the data or files, including follow-up questions.
- For images, read any text they contain or describe their content to answer questions.
Provide clear, concise and accurate responses. If clarification is needed, ask the user.`

// Instructions used when the user gives none.
const (
	defaultTableInstruction    = "Analyze this data and visualize the most interesting relationship."
	defaultDocumentInstruction = "Summarize this document."
	defaultImageInstruction    = "Describe the contents of this image."
)

func codegenPrompt(dataSummary, instruction string) string {
	var sb strings.Builder
	sb.WriteString("Data summary:\n")
	sb.WriteString(dataSummary)
	sb.WriteString("\nUser request: ")
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, `Write a standalone Python 3 script that fulfils the request.
- Load the data with pandas from the CSV file whose path is in the environment variable %s.
- If you make a chart, use matplotlib and save exactly one figure to the path in the environment variable %s. Do not call plt.show().
- Print any numeric findings to standard output.
- Do not use the network, subprocesses or files other than the two above.
Reply with one short sentence describing what the script does, followed by exactly one fenced `+"```python"+` code block and nothing else.`,
		sandbox.EnvDataPath, sandbox.EnvImagePath)
	return sb.String()
}

func documentPrompt(content, instruction string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nAnswer based on the context.", content, instruction)
}
