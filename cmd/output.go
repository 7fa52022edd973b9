package cmd

import (
	"fmt"

	"github.com/fatih/color"
)

// outcome is the subset of a batch result the summary printer needs.
type outcome struct {
	Name    string
	Skipped bool
	Reason  string
	Detail  string
	Err     error
}

// printOutcomes writes a per-item line and an overall summary for a
// batch operation.
func printOutcomes(verb string, outcomes []outcome) {
	ok := color.New(color.FgGreen).SprintFunc()
	skip := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	succeeded, skipped, failed := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			fmt.Printf("%s %s: %v\n", fail("FAIL"), o.Name, o.Err)
		case o.Skipped:
			skipped++
			fmt.Printf("%s %s: %s\n", skip("SKIP"), o.Name, o.Reason)
		default:
			succeeded++
			if o.Detail != "" {
				fmt.Printf("%s  %s (%s)\n", ok("OK"), o.Name, o.Detail)
			} else {
				fmt.Printf("%s  %s\n", ok("OK"), o.Name)
			}
		}
	}

	fmt.Printf("\n%d unit-set(s) %s, %d skipped, %d failed\n", succeeded, verb, skipped, failed)
}
