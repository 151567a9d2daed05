package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/boddenberg/loandesk-go/internal/amortization"
	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type emiCmd struct {
	out       io.Writer
	principal string
	rate      string
	tenure    int
	start     string
	schedule  bool
	raw       bool
}

func (*emiCmd) Name() string     { return "emi" }
func (*emiCmd) Synopsis() string { return "quote the monthly installment of a set of loan terms" }
func (*emiCmd) Usage() string {
	return `loanctl emi -principal <amount> -rate <percent> -tenure <months> [-start <date>] [-schedule] [-raw]

  Prints the EMI, total payable, total interest and first due date of the
  terms. With -schedule the full amortization table is printed as well.

Usage Examples:
$ loanctl emi -principal 250000 -rate 7.5 -tenure 240 -schedule

`
}

func (c *emiCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.principal, "principal", "", "Loan principal")
	f.StringVar(&c.rate, "rate", "", "Annual interest rate in percent")
	f.IntVar(&c.tenure, "tenure", 0, "Tenure in months")
	f.StringVar(&c.start, "start", "", "Start date (YYYY-MM-DD, defaults to today)")
	f.BoolVar(&c.schedule, "schedule", false, "Print the amortization schedule")
	f.BoolVar(&c.raw, "raw", false, "Print plain markdown instead of rendering it")
}

func (c *emiCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	term, err := c.term()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	md, err := emiMarkdown(term, c.schedule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.raw {
		fmt.Fprint(c.out, md)
	} else {
		printMarkdown(c.out, md)
	}
	return subcommands.ExitSuccess
}

func (c *emiCmd) term() (domain.LoanTerm, error) {
	principal, err := decimal.NewFromString(c.principal)
	if err != nil {
		return domain.LoanTerm{}, fmt.Errorf("-principal: %w", err)
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return domain.LoanTerm{}, fmt.Errorf("-rate: %w", err)
	}
	start := domain.DateOf(time.Now())
	if c.start != "" {
		if start, err = domain.ParseDate(c.start); err != nil {
			return domain.LoanTerm{}, fmt.Errorf("-start: %w", err)
		}
	}
	return domain.LoanTerm{
		Principal:         principal,
		AnnualRatePercent: rate,
		TenureMonths:      c.tenure,
		StartDate:         start,
	}, nil
}

func emiMarkdown(term domain.LoanTerm, withSchedule bool) (string, error) {
	quote, err := amortization.QuoteTerm(term)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# EMI Quote\n\n")
	fmt.Fprintf(&b, "- Principal: %s\n", amortization.RoundCurrency(term.Principal).StringFixed(2))
	fmt.Fprintf(&b, "- Interest Rate: %s%%\n", term.AnnualRatePercent.String())
	fmt.Fprintf(&b, "- Tenure: %d months\n", term.TenureMonths)
	fmt.Fprintf(&b, "- Monthly EMI: %s\n", quote.EMI.StringFixed(2))
	fmt.Fprintf(&b, "- Total Payable: %s\n", quote.TotalPayable.StringFixed(2))
	fmt.Fprintf(&b, "- Total Interest: %s\n", quote.TotalInterest.StringFixed(2))
	fmt.Fprintf(&b, "- First Due Date: %s\n", quote.FirstDueDate)

	if !withSchedule {
		return b.String(), nil
	}
	rows, err := amortization.Schedule(term)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "\n## Schedule\n\n")
	fmt.Fprintf(&b, "| # | Due | Payment | Interest | Principal | Balance |\n")
	fmt.Fprintf(&b, "|---|-----|--------:|---------:|----------:|--------:|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			r.Number, r.DueDate,
			r.Payment.StringFixed(2), r.Interest.StringFixed(2),
			r.Principal.StringFixed(2), r.Balance.StringFixed(2))
	}
	return b.String(), nil
}
