package policy

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// bashSegment is one program invocation split out of a (possibly chained)
// shell command line.
type bashSegment struct {
	Program string // base program name, quotes and directory prefix stripped
	Args    []string
}

// splitSegments parses a command line into its top-level invocations,
// honoring quoting and escaping the way a shell would. It is used by
// validateCommand when splitChained is enabled.
func splitSegments(command string) ([]bashSegment, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var segments []bashSegment
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if seg := extractSegment(call); seg != nil {
				segments = append(segments, *seg)
			}
		}
		return true
	})
	return segments, nil
}

func extractSegment(call *syntax.CallExpr) *bashSegment {
	if len(call.Args) == 0 {
		return nil
	}
	program := baseProgram(wordToString(call.Args[0]))
	if program == "" {
		return nil
	}
	seg := &bashSegment{Program: program}
	for _, arg := range call.Args[1:] {
		seg.Args = append(seg.Args, wordToString(arg))
	}
	return seg
}

// baseProgram strips any directory prefix and surrounding quotes from a
// parsed program token, e.g. "/usr/bin/rm" -> "rm".
func baseProgram(tok string) string {
	tok = strings.Trim(tok, `"'`)
	if idx := strings.LastIndex(tok, "/"); idx >= 0 {
		tok = tok[idx+1:]
	}
	return tok
}

// wordToString renders a parsed shell word back to its literal text,
// dynamic pieces (variable and command substitution) collapsed to opaque
// placeholders rather than resolved, since the policy engine never
// executes anything to resolve them.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// baseCommand returns just the first program name of a command line,
// without fully splitting chained segments. Used under denylist mode,
// where only the lead command is checked.
func baseCommand(command string) (string, error) {
	segments, err := splitSegments(command)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("empty command")
	}
	return segments[0].Program, nil
}
