// Command loanctl is the operator CLI of the loan desk: it quotes loan terms
// and renders loan summary reports straight from the loan API.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&emiCmd{out: os.Stdout}, "loans")
	commander.Register(&reportCmd{out: os.Stdout}, "loans")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
