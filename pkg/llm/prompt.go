package llm

import (
	"strings"

	"B2P/models"
	"B2P/util"
)

var visionKeywords = []string{
	"captcha", "read", "extract text", "ocr", "text recognition",
	"what's in", "describe image", "identify", "what is this",
	"explain image", "analyze image", "recognize image", "what does this show",
}

// NeedsVision reports whether the brief asks to read or understand one of the
// image attachments.
func NeedsVision(brief string, attachments []models.Attachment) bool {
	hasImage := false
	for _, a := range attachments {
		if util.IsImageFile(a.FileName()) {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return false
	}
	lower := strings.ToLower(brief)
	for _, kw := range visionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const authoringRules = `CRITICAL REQUIREMENTS:
1. Single HTML file with inline CSS and JavaScript
2. Must work entirely in browser (no server-side code)
3. Must deploy successfully on GitHub Pages
4. IMPLEMENT ACTUAL FUNCTIONALITY - do not hardcode results
5. If task involves processing/analysis, implement real algorithms
6. Include appropriate error handling
SPECIFIC INSTRUCTIONS:
- If the task involves image processing, OCR, captcha solving, or text recognition:
  • Use the Tesseract.js library.
  • ALWAYS include this line before </body> or in <head>:
    <script src="https://cdn.jsdelivr.net/npm/tesseract.js@2.1.5/dist/tesseract.min.js"></script>
  • Call Tesseract.recognize() directly; the worker loads automatically in v2.
  • If OCR fails, display a placeholder text like "Sample Text" instead of an error
  • The default image displayed on page load must be processed automatically and the result shown without user interaction
  • The default image must stay visible on page load; replace it only when a new url or image is provided
  • Show a loading message like "Processing..." while the default image is being solved
- Include a visible user interface with:
  • Input fields (e.g., image URL or file upload)
  • Buttons (e.g., "Solve", "Convert", etc.)
  • Clearly displayed output area for the result
  • Loading or error messages if something fails
- If the task involves calculations: implement real math operations
- If the task involves data processing: implement real data handling
- If any function or variable comes from an external library (like Tesseract, Chart.js, TensorFlow.js, etc.), include the correct <script> tag
- NEVER hardcode example results; always implement real functionality
OUTPUT FORMAT:
- Return ONLY the complete HTML code (no markdown or explanation).
- The output should be directly usable as index.html.`

// BuildPrompt renders the single instruction sent to the model.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an expert web developer. Generate a complete, self-contained HTML+JavaScript web application.\n")
	b.WriteString("TASK REQUIREMENT:\n")
	b.WriteString(req.Brief)
	b.WriteString("\nADDITIONAL CONTEXT:\n")

	if len(req.Attachments) > 0 {
		b.WriteString("Attachments available:\n")
		for _, a := range req.Attachments {
			b.WriteString("- " + a.DisplayName() + "\n")
		}
	} else {
		b.WriteString("No attachments\n")
	}

	if len(req.Checks) > 0 {
		b.WriteString("Evaluation checks that MUST pass:\n")
		for _, c := range req.Checks {
			b.WriteString("- " + c + "\n")
		}
	} else {
		b.WriteString("No specific checks\n")
	}

	if req.PreviousCode != "" {
		b.WriteString("Previous code (modify this):\n")
		b.WriteString(req.PreviousCode)
		b.WriteString("\n")
	} else {
		b.WriteString("No previous code\n")
	}

	if req.Seed != "" {
		b.WriteString("Seed value: " + req.Seed + "\n")
	} else {
		b.WriteString("No seed\n")
	}

	if NeedsVision(req.Brief, req.Attachments) {
		b.WriteString("IMAGE INPUTS:\n")
		b.WriteString("The following images sit next to index.html and must be loaded by relative path and processed on page load:\n")
		for _, a := range req.Attachments {
			if util.IsImageFile(a.FileName()) {
				b.WriteString("- " + a.FileName() + "\n")
			}
		}
	}

	b.WriteString(authoringRules)
	b.WriteString("\n")
	return b.String()
}
