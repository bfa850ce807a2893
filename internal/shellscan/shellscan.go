// Package shellscan inspects shell command lines before they are run on a
// permission grant's behalf. It tokenizes with an explicit quoting state
// machine, splits chains and pipes, and flags the sub-commands that should
// go through a human permission grant instead of running unattended.
package shellscan

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenize splits one command into words, honoring single quotes, double
// quotes, and backslash escapes. Malformed quoting falls back to whitespace
// fields rather than guessing.
func Tokenize(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	args := make([]string, 0, 8)
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false
	wrote := false
	flush := func() {
		if !wrote {
			return
		}
		args = append(args, current.String())
		current.Reset()
		wrote = false
	}
	for _, r := range trimmed {
		switch {
		case escaped:
			current.WriteRune(r)
			wrote = true
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			wrote = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			wrote = true
		case unicode.IsSpace(r) && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
			wrote = true
		}
	}
	if escaped {
		current.WriteRune('\\')
		wrote = true
	}
	flush()
	if inSingle || inDouble {
		return strings.Fields(trimmed)
	}
	return args
}

// SplitChain breaks a command line into its chained commands, splitting on
// ;, &&, ||, | and background & outside quotes. The pipe segments come back
// as separate commands so each side gets classified on its own.
func SplitChain(raw string) []string {
	var cmds []string
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			cmds = append(cmds, s)
		}
		current.Reset()
	}
	for _, r := range raw {
		switch {
		case escaped:
			current.WriteRune('\\')
			current.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(r)
		case (r == ';' || r == '|' || r == '&') && !inSingle && !inDouble:
			// && and || look like two separators; the empty segment
			// between them is dropped by flush.
			flush()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	flush()
	return cmds
}

// HasSubstitution reports whether the line contains command or process
// substitution outside single quotes. Substituted commands are opaque to
// pattern scanning, so their presence alone is a grant trigger.
func HasSubstitution(raw string) bool {
	inSingle := false
	escaped := false
	var prev rune
	for _, r := range raw {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'':
			inSingle = !inSingle
		case inSingle:
		case r == '`':
			return true
		case r == '(' && (prev == '$' || prev == '<' || prev == '>'):
			return true
		}
		prev = r
	}
	return false
}

// Verdict is the scan result for one command line.
type Verdict struct {
	NeedsGrant bool
	Reasons    []string
}

// Scan classifies a command line. Any dangerous sub-command, or any opaque
// substitution, makes the whole line grant-worthy; the reasons name every
// trigger so the prompt can show them.
func Scan(raw string) Verdict {
	var v Verdict
	if HasSubstitution(raw) {
		v.Reasons = append(v.Reasons, "command substitution")
	}
	cmds := SplitChain(raw)
	for i, cmd := range cmds {
		args := Tokenize(cmd)
		if reason := classify(args, pipedFrom(cmds, i)); reason != "" {
			v.Reasons = append(v.Reasons, reason)
		}
	}
	v.NeedsGrant = len(v.Reasons) > 0
	return v
}

// pipedFrom returns the head of the previous chain segment, used to catch
// fetch-and-execute pipelines.
func pipedFrom(cmds []string, i int) string {
	if i == 0 {
		return ""
	}
	prev := Tokenize(cmds[i-1])
	if len(prev) == 0 {
		return ""
	}
	return baseName(prev[0])
}

func classify(args []string, pipedFrom string) string {
	if len(args) == 0 {
		return ""
	}
	head := baseName(args[0])

	switch head {
	case "sudo", "doas":
		return "privilege escalation: " + strings.Join(args, " ")
	case "rm":
		if hasRecursiveForce(args[1:]) {
			return "recursive delete: " + strings.Join(args, " ")
		}
	case "dd", "mkfs", "fdisk", "parted":
		return "raw device operation: " + head
	case "shutdown", "reboot", "halt", "poweroff":
		return "host power control: " + head
	case "chmod", "chown":
		for _, a := range args[1:] {
			if a == "-R" || strings.HasPrefix(a, "-R") {
				return "recursive ownership/mode change: " + strings.Join(args, " ")
			}
		}
	case "git":
		if isForcePush(args[1:]) {
			return "force push: " + strings.Join(args, " ")
		}
	case "sh", "bash", "zsh", "dash":
		if pipedFrom == "curl" || pipedFrom == "wget" {
			return "piped download execution: " + pipedFrom + " | " + head
		}
	case "kill", "pkill", "killall":
		for _, a := range args[1:] {
			if a == "1" || a == "-1" {
				return "signal to init: " + strings.Join(args, " ")
			}
		}
	}
	if strings.HasPrefix(head, "mkfs.") {
		return "raw device operation: " + head
	}
	return ""
}

// hasRecursiveForce detects rm's -r and -f in any combined or separate form.
func hasRecursiveForce(args []string) bool {
	recursive, force := false, false
	for _, a := range args {
		if !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
			switch a {
			case "--recursive":
				recursive = true
			case "--force":
				force = true
			}
			continue
		}
		if strings.ContainsAny(a, "rR") {
			recursive = true
		}
		if strings.Contains(a, "f") {
			force = true
		}
	}
	return recursive && force
}

func isForcePush(args []string) bool {
	push := false
	for _, a := range args {
		switch {
		case a == "push":
			push = true
		case a == "--force" || a == "-f" || strings.HasPrefix(a, "--force-with-lease"):
			if push {
				return true
			}
		}
	}
	return false
}

func baseName(cmd string) string {
	if i := strings.LastIndexByte(cmd, '/'); i >= 0 {
		cmd = cmd[i+1:]
	}
	return cmd
}

// Describe renders a verdict for a permission prompt.
func Describe(raw string, v Verdict) string {
	if !v.NeedsGrant {
		return fmt.Sprintf("`%s` — no grant needed", raw)
	}
	return fmt.Sprintf("`%s` — needs grant: %s", raw, strings.Join(v.Reasons, "; "))
}
