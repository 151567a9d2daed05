package report

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
)

// HTML renders the document as a standalone HTML page. Each report page
// becomes one <section class="page">, so print stylesheets can break on it.
func (d *Document) HTML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>%s</title>\n", html.EscapeString(d.Title))
	buf.WriteString("<style>section.page { page-break-after: always; }</style>\n</head>\n<body>\n")

	for i, p := range d.Pages {
		fmt.Fprintf(&buf, "<section class=\"page\" data-page=\"%d\">\n", i+1)
		if err := goldmark.Convert([]byte(p.Markdown()), &buf); err != nil {
			return nil, fmt.Errorf("rendering page %d: %w", i+1, err)
		}
		buf.WriteString("</section>\n")
	}

	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}
