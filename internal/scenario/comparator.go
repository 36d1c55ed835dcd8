package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Comparator checks an element count, e.g. ">=1"
type Comparator struct {
	Op    string
	Value int
}

var comparatorOps = []string{">=", "<=", "==", "!=", ">", "<"}

// AtLeast matches counts of n or more
func AtLeast(n int) Comparator {
	return Comparator{Op: ">=", Value: n}
}

// Exactly matches a count of exactly n
func Exactly(n int) Comparator {
	return Comparator{Op: "==", Value: n}
}

// ParseComparator accepts "<op><n>" or a bare number meaning equality
func ParseComparator(s string) (Comparator, error) {
	s = strings.TrimSpace(s)
	op := "=="
	for _, candidate := range comparatorOps {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			s = strings.TrimSpace(s[len(candidate):])
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Comparator{}, fmt.Errorf("invalid comparator value %q: %w", s, err)
	}
	return Comparator{Op: op, Value: n}, nil
}

func (c Comparator) Matches(n int) bool {
	switch c.Op {
	case "==":
		return n == c.Value
	case "!=":
		return n != c.Value
	case ">":
		return n > c.Value
	case ">=":
		return n >= c.Value
	case "<":
		return n < c.Value
	case "<=":
		return n <= c.Value
	}
	return false
}

func (c Comparator) String() string {
	return fmt.Sprintf("%s%d", c.Op, c.Value)
}

func (c *Comparator) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseComparator(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = parsed
	return nil
}

func (c Comparator) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}
