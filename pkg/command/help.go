package command

import (
	"fmt"
	"strings"
)

// HelpText renders the help for cmd: its names, description, usage line built
// from args_description, and the modifiers it accepts.
func HelpText(cmd *Command) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s)\n", cmd.SimpleName, cmd.QualifiedName)
	if cmd.Manifest.HelpText != "" {
		b.WriteString(cmd.Manifest.HelpText)
		b.WriteByte('\n')
	}

	b.WriteString("Usage: ")
	b.WriteString(cmd.SimpleName)
	for _, arg := range cmd.Manifest.ArgsDescription {
		fmt.Fprintf(&b, " <%s>", arg)
	}
	if cmd.Manifest.Modifiers.Len() > 0 {
		b.WriteString(" [modifiers]")
	}
	b.WriteByte('\n')

	if rule := cmd.Manifest.Args.String(); rule != "*" {
		fmt.Fprintf(&b, "Arguments: %s\n", rule)
	}
	if cmd.Manifest.Modifiers.Len() > 0 {
		b.WriteString("Modifiers:\n")
		b.WriteString(cmd.Manifest.Modifiers.Usage())
	}

	return strings.TrimRight(b.String(), "\n")
}

// Summary is a one-line listing entry for cmd.
func Summary(cmd *Command) string {
	if cmd.Manifest.HelpText == "" {
		return cmd.QualifiedName
	}
	first, _, _ := strings.Cut(cmd.Manifest.HelpText, "\n")
	return fmt.Sprintf("%s - %s", cmd.QualifiedName, first)
}
