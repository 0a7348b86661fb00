package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
)

// ParseOptions splits the option column ("Fast;Priority=50;Dual;RO") into flags.
// Flags whose value is not an integer are dropped and reported as problems;
// later duplicates replace earlier ones.
func ParseOptions(field string) (models.FlagSet, []string) {
	var flags models.FlagSet
	var problems []string

	for _, part := range strings.Split(field, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		flag := models.Flag{Name: part}
		if name, val, ok := strings.Cut(part, "="); ok {
			name = strings.TrimSpace(name)
			val = strings.TrimSpace(val)
			n, err := strconv.Atoi(val)
			if name == "" || err != nil {
				problems = append(problems, fmt.Sprintf("option %q: value is not an integer", part))
				continue
			}
			flag = models.Flag{Name: name, Value: n, HasValue: true}
		}

		replaced := false
		for i := range flags {
			if strings.EqualFold(flags[i].Name, flag.Name) {
				flags[i] = flag
				replaced = true
				break
			}
		}
		if !replaced {
			flags = append(flags, flag)
		}
	}

	return flags, problems
}
