// Package report renders the loan summary document for one principal.
//
// A Document is built from a store snapshot and is fully determined by its
// inputs: rendering the same owner, snapshot, timestamp and options twice
// yields identical bytes in every encoding.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/portfolio"
)

//go:embed templates/*.md
var templateFS embed.FS

var templates = template.Must(template.New("report").ParseFS(templateFS, "templates/*.md"))

const (
	Title = "Loan Summary Report"

	// DefaultPageLines is the page height used when Options.PageLines is unset.
	DefaultPageLines = 30
	// DefaultCurrency is used when Options.Currency is unset or unknown.
	DefaultCurrency = "USD"

	// PageBreak separates pages in the markdown encoding.
	PageBreak = "<!-- pagebreak -->"

	generatedLayout = "02 Jan 2006, 3:04 PM"
	dateLayout      = "Jan 2, 2006"
	noDate          = "—"
)

// Notes closes every report.
var Notes = []string{
	"All loans are active and on schedule.",
	"No missed EMI payments recorded so far.",
	"EMI reminders will be sent 5 days before due date.",
	"Consider enabling auto-debit for smoother repayment.",
}

// Options controls layout and formatting.
type Options struct {
	Currency  string
	PageLines int
}

func (o Options) withDefaults() Options {
	if o.PageLines <= 0 {
		o.PageLines = DefaultPageLines
	}
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
	return o
}

// BlockKind identifies a report section.
type BlockKind string

const (
	BlockHeader    BlockKind = "header"
	BlockOverview  BlockKind = "overview"
	BlockBreakdown BlockKind = "breakdown"
	BlockLoan      BlockKind = "loan"
	BlockNotes     BlockKind = "notes"
)

// Block is an atomic run of markdown lines. Pagination never splits a block.
type Block struct {
	Kind  BlockKind
	Lines []string
}

// Height is the number of page lines the block occupies, including the
// blank line that follows it.
func (b Block) Height() int { return len(b.Lines) + 1 }

func (b Block) markdown() string { return strings.Join(b.Lines, "\n") }

// Page is one fixed-height page of blocks.
type Page struct {
	Blocks []Block
}

// Height is the sum of the block heights on the page.
func (p Page) Height() int {
	h := 0
	for _, b := range p.Blocks {
		h += b.Height()
	}
	return h
}

// Markdown renders the page on its own.
func (p Page) Markdown() string {
	parts := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		parts[i] = b.markdown()
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// Document is a paginated loan summary.
type Document struct {
	Title       string
	GeneratedAt time.Time
	OwnerID     int64
	Options     Options
	Pages       []Page
}

// FileName is the suggested file name for the given extension ("md", "html").
func (d *Document) FileName(ext string) string {
	return fmt.Sprintf("loan-summary-%d.%s", d.OwnerID, ext)
}

// Generate builds the report for owner from a store snapshot. The snapshot is
// read, never retained.
func Generate(owner domain.Identity, snapshot []domain.LoanRecord, generatedAt time.Time, opts Options) *Document {
	opts = opts.withDefaults()
	f := newFormatter(opts.Currency)

	blocks := []Block{
		render(BlockHeader, "header.md", headerView{
			Title:        Title,
			Generated:    generatedAt.Format(generatedLayout),
			CustomerName: owner.DisplayName(),
			CustomerID:   fmt.Sprintf("%05d", owner.ID),
		}),
		overviewBlock(f, portfolio.Summarize(snapshot)),
	}

	breakdown := render(BlockBreakdown, "breakdown.md", len(snapshot) == 0)
	if len(snapshot) == 0 {
		blocks = append(blocks, breakdown)
	}
	for i, rec := range snapshot {
		b := loanBlock(f, i+1, rec)
		if i == 0 {
			// keep the section heading with the first loan
			b.Lines = append(append(breakdown.Lines, ""), b.Lines...)
		}
		blocks = append(blocks, b)
	}
	blocks = append(blocks, render(BlockNotes, "notes.md", Notes))

	return &Document{
		Title:       Title,
		GeneratedAt: generatedAt,
		OwnerID:     owner.ID,
		Options:     opts,
		Pages:       paginate(blocks, opts.PageLines),
	}
}

// paginate fills pages in order. A block that does not fit on the current
// page starts the next one; a block taller than a page gets a page to itself.
func paginate(blocks []Block, pageLines int) []Page {
	var pages []Page
	var cur Page
	used := 0
	for _, b := range blocks {
		if used > 0 && used+b.Height() > pageLines {
			pages = append(pages, cur)
			cur = Page{}
			used = 0
		}
		cur.Blocks = append(cur.Blocks, b)
		used += b.Height()
	}
	if len(cur.Blocks) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

// Markdown renders every page, separated by PageBreak lines.
func (d *Document) Markdown() []byte {
	var buf bytes.Buffer
	for i, p := range d.Pages {
		if i > 0 {
			buf.WriteString("\n" + PageBreak + "\n\n")
		}
		buf.WriteString(p.Markdown())
	}
	return buf.Bytes()
}

type headerView struct {
	Title        string
	Generated    string
	CustomerName string
	CustomerID   string
}

type overviewView struct {
	ActiveCount      int
	TotalPrincipal   string
	TotalPayable     string
	TotalPaid        string
	TotalOutstanding string
}

type loanView struct {
	Index       int
	Type        domain.LoanType
	Tag         string
	Principal   string
	Rate        string
	Tenure      int
	EMI         string
	StartDate   string
	NextDue     string
	Paid        string
	Outstanding string
	Status      string
}

func overviewBlock(f formatter, s domain.PortfolioSummary) Block {
	return render(BlockOverview, "overview.md", overviewView{
		ActiveCount:      s.ActiveCount,
		TotalPrincipal:   f.money(s.TotalPrincipal),
		TotalPayable:     f.money(s.TotalPayable),
		TotalPaid:        f.money(s.TotalPaid),
		TotalOutstanding: f.money(s.TotalOutstanding),
	})
}

func loanBlock(f formatter, index int, rec domain.LoanRecord) Block {
	return render(BlockLoan, "loan.md", loanView{
		Index:       index,
		Type:        rec.LoanType,
		Tag:         fmt.Sprintf("%03d", rec.ID),
		Principal:   f.money(rec.Principal),
		Rate:        rec.RatePercent.String(),
		Tenure:      rec.TenureMonths,
		EMI:         f.money(rec.EMI),
		StartDate:   prettyDate(rec.StartDate),
		NextDue:     prettyDate(rec.NextDueDate),
		Paid:        f.money(rec.AmountPaid),
		Outstanding: f.money(rec.Outstanding),
		Status:      strings.ToUpper(string(rec.Status)),
	})
}

// render executes one embedded template into a block. The templates are
// compiled into the binary, so an execution failure is a programming error.
func render(kind BlockKind, name string, data any) Block {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		panic(fmt.Sprintf("report template %q: %v", name, err))
	}
	return Block{Kind: kind, Lines: strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")}
}

func prettyDate(d domain.Date) string {
	if d.IsZero() {
		return noDate
	}
	return d.Time().Format(dateLayout)
}
