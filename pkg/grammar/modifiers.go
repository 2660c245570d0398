package grammar

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var modifierKeyPattern = regexp.MustCompile(`^--?[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ModifierSpec is one declared allowed_modifiers entry. A token ending in "="
// takes a value ("-n=" accepts "-n=5" and "-n 5"); any other token is a flag.
type ModifierSpec struct {
	Token       string
	Key         string
	TakesValue  bool
	Description string
}

// ModifierSet is the compiled set of modifiers a command accepts.
type ModifierSet struct {
	specs []ModifierSpec
	flags map[string]ModifierSpec
	vals  map[string]ModifierSpec
}

// ParseModifiers compiles an allowed_modifiers map of token to description.
func ParseModifiers(allowed map[string]string) (ModifierSet, error) {
	set := ModifierSet{
		flags: make(map[string]ModifierSpec),
		vals:  make(map[string]ModifierSpec),
	}

	tokens := make([]string, 0, len(allowed))
	for tok := range allowed {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	for _, tok := range tokens {
		spec := ModifierSpec{Token: tok, Key: tok, Description: allowed[tok]}
		if strings.HasSuffix(tok, "=") {
			spec.Key = strings.TrimSuffix(tok, "=")
			spec.TakesValue = true
		}
		if !modifierKeyPattern.MatchString(spec.Key) {
			return ModifierSet{}, &SyntaxError{Expr: tok, Reason: "modifier must look like -x, --name or -x="}
		}

		if spec.TakesValue {
			set.vals[spec.Key] = spec
		} else {
			set.flags[spec.Key] = spec
		}
		set.specs = append(set.specs, spec)
	}

	return set, nil
}

// Specs returns the declared modifiers ordered by token.
func (s ModifierSet) Specs() []ModifierSpec {
	return append([]ModifierSpec(nil), s.specs...)
}

// Keys returns the distinct modifier keys, ordered.
func (s ModifierSet) Keys() []string {
	seen := make(map[string]bool, len(s.specs))
	keys := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		if !seen[spec.Key] {
			seen[spec.Key] = true
			keys = append(keys, spec.Key)
		}
	}
	return keys
}

// Len returns the number of declared tokens.
func (s ModifierSet) Len() int { return len(s.specs) }

// Modifiers maps a modifier key to true (flag given), false (not given) or the
// literal string value.
type Modifiers map[string]any

// Present reports whether key was given in the message.
func (m Modifiers) Present(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return true
	default:
		return false
	}
}

// Value returns the string value of key, if one was given.
func (m Modifiers) Value(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Parsed is a tokenized command line.
type Parsed struct {
	Args      []string
	Modifiers Modifiers
}

// ParseTokens classifies the tokens after the command name. Declared modifiers
// are recorded, any other token (including undeclared "-x") is positional and
// every declared modifier not in the message is recorded as false.
func ParseTokens(tokens []string, set ModifierSet) Parsed {
	p := Parsed{
		Args:      []string{},
		Modifiers: make(Modifiers, len(set.specs)),
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !strings.HasPrefix(tok, "-") || tok == "-" || tok == "--" {
			p.Args = append(p.Args, tok)
			continue
		}

		if key, val, ok := strings.Cut(tok, "="); ok {
			if _, declared := set.vals[key]; declared {
				p.Modifiers[key] = val
				continue
			}
			p.Args = append(p.Args, tok)
			continue
		}

		if _, declared := set.flags[tok]; declared {
			p.Modifiers[tok] = true
			continue
		}
		if _, declared := set.vals[tok]; declared {
			// a following declared modifier is not taken as the value
			if i+1 < len(tokens) && !set.declares(tokens[i+1]) {
				p.Modifiers[tok] = tokens[i+1]
				i++
			} else {
				p.Modifiers[tok] = true
			}
			continue
		}

		p.Args = append(p.Args, tok)
	}

	for _, spec := range set.specs {
		if _, seen := p.Modifiers[spec.Key]; !seen {
			p.Modifiers[spec.Key] = false
		}
	}

	return p
}

// declares reports whether tok is a declared modifier in any of its forms.
func (s ModifierSet) declares(tok string) bool {
	if _, ok := s.flags[tok]; ok {
		return true
	}
	key, _, _ := strings.Cut(tok, "=")
	_, ok := s.vals[key]
	return ok
}

// Usage renders the modifiers for help text, one per line.
func (s ModifierSet) Usage() string {
	var b strings.Builder
	for _, spec := range s.specs {
		token := spec.Token
		if spec.TakesValue {
			token += "<value>"
		}
		fmt.Fprintf(&b, "  %s  %s\n", token, spec.Description)
	}
	return b.String()
}
