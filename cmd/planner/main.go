// Command planner prints the bundle-formation instructions for a set of pile
// amounts without starting the HTTP service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/eugenenazirov/liasse-counter/internal/liasse"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type plan struct {
	Target       int             `json:"target"`
	Piles        []liasse.Pile   `json:"piles"`
	Instructions []liasse.Bundle `json:"instructions"`
	Summary      liasse.Summary  `json:"summary"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := kingpin.New("planner", "Prints bundle-formation instructions for the given pile amounts")
	app.UsageWriter(stdout)
	app.ErrorWriter(stderr)
	exited := false
	app.Terminate(func(int) { exited = true })

	target := app.Flag("target", "Units per complete bundle").Default(fmt.Sprint(liasse.DefaultTarget)).Int()
	format := app.Flag("format", "Output format").Default(formatText).Enum(formatText, formatJSON)
	amounts := app.Arg("amount", "Pile amounts in pile order").Required().Ints()

	_, err := app.Parse(args)
	if exited {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "planner: %v\n", err)
		return 2
	}

	for i, amount := range *amounts {
		if amount < 0 {
			fmt.Fprintf(stderr, "planner: pile %d has negative amount %d\n", i, amount)
			return 2
		}
	}

	if err := liasse.CheckUnits(liasse.PilesFromAmounts(*amounts)); err != nil {
		fmt.Fprintf(stderr, "planner: %v\n", err)
		return 2
	}

	p, err := buildPlan(*amounts, *target)
	if err != nil {
		fmt.Fprintf(stderr, "planner: %v\n", err)
		return 1
	}

	if *format == formatJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p); err != nil {
			fmt.Fprintf(stderr, "planner: %v\n", err)
			return 1
		}
		return 0
	}

	writeText(stdout, p)
	return 0
}

func buildPlan(amounts []int, target int) (plan, error) {
	piles := liasse.PilesFromAmounts(amounts)
	bundles, err := liasse.BuildInstructions(piles, target)
	if err != nil {
		return plan{}, err
	}
	summary, err := liasse.Summarize(amounts, target)
	if err != nil {
		return plan{}, err
	}
	return plan{Target: target, Piles: piles, Instructions: bundles, Summary: summary}, nil
}

func writeText(w io.Writer, p plan) {
	if len(p.Instructions) == 0 {
		fmt.Fprintln(w, "no units to bundle")
	}
	for _, b := range p.Instructions {
		status := "complete"
		if !b.IsComplete {
			status = "incomplete"
		}
		fmt.Fprintf(w, "bundle %d [%s] %d/%d\n", b.Number, status, b.Total, p.Target)
		for _, s := range b.Steps {
			fmt.Fprintf(w, "  pile %d: take %d of %d (%d left)\n", s.Index, s.Take, s.From, s.Remaining)
		}
	}
	s := p.Summary
	fmt.Fprintf(w, "total %d units in %d piles: %d complete bundles, %d remaining\n",
		s.TotalUnits, s.ActivePiles, s.CompleteBundles, s.RemainderUnits)
}
