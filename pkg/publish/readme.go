package publish

import (
	"fmt"
	"strings"
	"time"
)

// ReadmeInput feeds BuildReadme.
type ReadmeInput struct {
	Task        string
	Brief       string
	RepoURL     string
	Round       int
	Attachments []string
	// Previous is the README already in the repository; used from round 2.
	Previous string
	Date     time.Time
}

// BuildReadme renders the repository README. With a previous README the new
// body is appended under a dated round heading.
func BuildReadme(in ReadmeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", in.Task)
	b.WriteString("## Project Description\n")
	b.WriteString("This project was automatically generated based on the following requirement:\n")
	b.WriteString(in.Brief + "\n")
	b.WriteString("## Features\n")
	b.WriteString("- Implements the specified functionality\n")
	b.WriteString("- Clean and responsive web interface\n")
	b.WriteString("- Easy to deploy and use\n")
	b.WriteString("## Setup\n")
	fmt.Fprintf(&b, "1. Clone this repository: `git clone %s`\n", in.RepoURL)
	fmt.Fprintf(&b, "2. Navigate to the project folder: `cd %s`\n", in.Task)
	b.WriteString("3. Open `index.html` in your web browser\n")
	b.WriteString("## Usage\n")
	b.WriteString("- Open the deployed GitHub Pages site\n")
	b.WriteString("- Or run locally by opening `index.html` in a browser\n")
	b.WriteString("## Technical Details\n")
	b.WriteString("- Built with HTML, CSS, and JavaScript\n")
	b.WriteString("- Deployed automatically via GitHub Pages\n")
	b.WriteString("- Self-contained single page application\n")
	b.WriteString("## License\n")
	b.WriteString("MIT License\n")

	if len(in.Attachments) > 0 {
		b.WriteString("\n## Attachments\n")
		for _, a := range in.Attachments {
			b.WriteString("- " + a + "\n")
		}
	}

	body := b.String()
	if strings.TrimSpace(in.Previous) == "" {
		return body
	}
	return fmt.Sprintf("%s\n\n### Round %d Updates (%s)\n%s",
		strings.TrimRight(in.Previous, "\n"), in.Round, in.Date.Format("2006-01-02"), body)
}

const licenseText = `MIT License

Copyright (c) %d %s

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`

// License is the MIT license pushed to every repository.
func License(year int, holder string) string {
	return fmt.Sprintf(licenseText, year, holder)
}
