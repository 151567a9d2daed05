package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/client"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"
	"github.com/boddenberg/loandesk-go/internal/port"
	"github.com/boddenberg/loandesk-go/internal/report"

	"github.com/google/subcommands"
)

type reportCmd struct {
	out       io.Writer
	apiURL    string
	apiKey    string
	userID    int64
	format    string
	output    string
	render    bool
	currency  string
	pageLines int
	timeout   time.Duration
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "render a customer's loan summary report" }
func (*reportCmd) Usage() string {
	return `loanctl report -user <id> [-api <url>] [-key <key>] [-format md|html] [-out <file>] [-render]

  Fetches the customer's loans and identity from the loan API and renders
  the paginated loan summary. Without -out the report goes to stdout; -render
  formats the markdown for the terminal.

`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.apiURL, "api", envOr("LOAN_API_URL", "http://localhost:8000"), "Loan API base URL")
	f.StringVar(&c.apiKey, "key", os.Getenv("LOAN_API_KEY"), "Loan API service key")
	f.Int64Var(&c.userID, "user", 0, "Customer id")
	f.StringVar(&c.format, "format", "md", "Output format (md, html)")
	f.StringVar(&c.output, "out", "", "Write the report to this file")
	f.BoolVar(&c.render, "render", false, "Render markdown for the terminal")
	f.StringVar(&c.currency, "currency", report.DefaultCurrency, "ISO 4217 currency code for amounts")
	f.IntVar(&c.pageLines, "page-lines", report.DefaultPageLines, "Lines per report page")
	f.DurationVar(&c.timeout, "timeout", 10*time.Second, "HTTP timeout")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.userID <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -user is required\n")
		return subcommands.ExitUsageError
	}
	if c.format != "md" && c.format != "html" {
		fmt.Fprintf(os.Stderr, "Error: -format must be md or html\n")
		return subcommands.ExitUsageError
	}

	api := client.NewLoanClient(
		&http.Client{Timeout: c.timeout},
		c.apiURL, c.apiKey,
		resilience.NewCircuitBreaker("loan-api"),
		resilience.Config{MaxRetries: 2, InitialBackoff: 200 * time.Millisecond},
	)
	doc, err := c.generate(ctx, api, api, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	body, err := encode(doc, c.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	switch {
	case c.output != "":
		if err := os.WriteFile(c.output, body, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(os.Stderr, "wrote %d page(s) to %s\n", len(doc.Pages), c.output)
	case c.render && c.format == "md":
		printMarkdown(c.out, string(body))
	default:
		c.out.Write(body)
	}
	return subcommands.ExitSuccess
}

// generate builds the document; a failed identity lookup only degrades the header.
func (c *reportCmd) generate(ctx context.Context, api port.LoanAPI, ids port.IdentityFetcher, now time.Time) (*report.Document, error) {
	loans, err := api.ListLoans(ctx, c.userID)
	if err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}

	owner := domain.Identity{ID: c.userID}
	if id, err := ids.GetIdentity(ctx, c.userID); err == nil {
		owner = *id
	} else {
		fmt.Fprintf(os.Stderr, "Warning: identity lookup failed: %v\n", err)
	}

	return report.Generate(owner, loans, now, report.Options{
		Currency:  c.currency,
		PageLines: c.pageLines,
	}), nil
}

func encode(doc *report.Document, format string) ([]byte, error) {
	if format == "html" {
		return doc.HTML()
	}
	return doc.Markdown(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
