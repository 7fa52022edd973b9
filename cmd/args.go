package cmd

import (
	"errors"
	"fmt"
)

// requireNamesOrAll validates that a batch command got either explicit
// unit-set names or the --all flag, not both and not neither.
func requireNamesOrAll(args []string, all bool) error {
	if all && len(args) > 0 {
		return errors.New("unit-set names and --all are mutually exclusive")
	}
	if !all && len(args) == 0 {
		return errors.New("name at least one unit-set or pass --all")
	}
	return nil
}

// namesOrAll maps command arguments to the manager's name list, where
// the single name "all" selects every configured unit-set.
func namesOrAll(args []string, all bool) []string {
	if all {
		return []string{"all"}
	}
	return args
}

func warningsDetail(n int) string {
	return fmt.Sprintf("%d warning(s)", n)
}
