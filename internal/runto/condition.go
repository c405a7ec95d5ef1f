package runto

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/muurk/stagehand/internal/target"
)

// Condition is where a run-to should stop: either a named boot stage
// or an address.
type Condition struct {
	// Stage is the boot stage name, empty for address conditions.
	Stage string
	// Address is used when Stage is empty.
	Address target.Address
}

// AtStage returns a condition that stops at the entry of stage.
func AtStage(name string) Condition {
	return Condition{Stage: name}
}

// AtAddress returns a condition that stops at addr.
func AtAddress(addr target.Address) Condition {
	return Condition{Address: addr}
}

func (c Condition) String() string {
	if c.Stage != "" {
		return c.Stage
	}
	return c.Address.String()
}

// conditionExpr is "term [':' term]". Which combinations are valid is
// decided in build, so the grammar never needs to backtrack.
type conditionExpr struct {
	Head *term `parser:"@@"`
	Tail *term `parser:"( ':' @@ )?"`
}

type term struct {
	Number *string `parser:"  @Number"`
	Ident  *string `parser:"| @Ident"`
}

var conditionParser = participle.MustBuild[conditionExpr](
	participle.Lexer(lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|[0-9]+`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.\-]*`},
		{Name: "Punct", Pattern: `:`},
		{Name: "Whitespace", Pattern: `\s+`},
	})),
	participle.Elide("Whitespace"),
)

// ParseCondition parses a run-to condition. Accepted forms:
//
//	bl2              stage name
//	stage:bl2        explicit stage name
//	0x00100000       untagged address
//	S:0x0            secure address
//	N:0x60000000     non-secure address
func ParseCondition(s string) (Condition, error) {
	expr, err := conditionParser.ParseString("", s)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid run-to condition %q: %w", s, err)
	}
	cond, err := expr.build()
	if err != nil {
		return Condition{}, fmt.Errorf("invalid run-to condition %q: %w", s, err)
	}
	return cond, nil
}

func (e *conditionExpr) build() (Condition, error) {
	if e.Tail == nil {
		if e.Head.Number != nil {
			v, err := target.ParseNumber(*e.Head.Number)
			if err != nil {
				return Condition{}, err
			}
			return AtAddress(target.Untagged(v)), nil
		}
		return AtStage(*e.Head.Ident), nil
	}

	if e.Head.Ident == nil {
		return Condition{}, fmt.Errorf("expected a space tag or \"stage\" before ':'")
	}
	tag := *e.Head.Ident
	if strings.EqualFold(tag, "stage") {
		if e.Tail.Ident == nil {
			return Condition{}, fmt.Errorf("expected a stage name after \"stage:\"")
		}
		return AtStage(*e.Tail.Ident), nil
	}

	space, err := target.ParseSpace(tag)
	if err != nil {
		return Condition{}, err
	}
	if space == target.SpaceAny || e.Tail.Number == nil {
		return Condition{}, fmt.Errorf("expected S:<address> or N:<address>")
	}
	v, err := target.ParseNumber(*e.Tail.Number)
	if err != nil {
		return Condition{}, err
	}
	return AtAddress(target.Address{Space: space, Value: v}), nil
}
