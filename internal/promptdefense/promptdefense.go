// Package promptdefense implements prompt-injection sanitization, tool
// output validation, and secret-leak detection/redaction (Prompt
// Defense & Leak Detector).
package promptdefense

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// injectionPatterns match common prompt-injection phrasings. Matching
// is applied globally: every occurrence is wrapped, not just the first.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all |any )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (all |any )?(prior|previous|above) instructions`),
	regexp.MustCompile(`(?i)you are now [a-z0-9 _-]+`),
	regexp.MustCompile(`(?i)\[?(system|assistant)\]?\s*:\s*`),
	regexp.MustCompile(`(?i)<\|?(system|assistant)\|?>`),
	regexp.MustCompile(`(?i)new instructions\s*:`),
}

// SanitizeInput wraps every substring matching a known injection
// pattern in untrusted-content delimiters, including base64-encoded
// forms of the same phrasings.
func SanitizeInput(text string) string {
	out := text
	for _, pat := range injectionPatterns {
		out = pat.ReplaceAllStringFunc(out, wrapUntrusted)
	}
	out = wrapEncodedInjections(out)
	return out
}

func wrapUntrusted(match string) string {
	return "[UNTRUSTED-CONTENT]" + match + "[/UNTRUSTED-CONTENT]"
}

// base64Token matches standalone base64-looking runs long enough to
// plausibly encode an injection phrase.
var base64Token = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)

func wrapEncodedInjections(text string) string {
	return base64Token.ReplaceAllStringFunc(text, func(tok string) string {
		decoded, err := base64.StdEncoding.DecodeString(tok)
		if err != nil {
			return tok
		}
		for _, pat := range injectionPatterns {
			if pat.MatchString(string(decoded)) {
				return wrapUntrusted(tok)
			}
		}
		return tok
	})
}

// criticalConfigPaths identifies path fragments that must never be
// written or shell-modified by a tool call.
var criticalConfigPaths = []string{
	"memory/MEMORY.md",
	"/policy",
	"/config",
	"secrets.enc",
}

// sensitivePathPatterns identifies file-read targets that should never
// be read on the agent's behalf.
var sensitivePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.env(\.|$)`),
	regexp.MustCompile(`(^|/)\.ssh/`),
	regexp.MustCompile(`id_rsa|id_ed25519|id_ecdsa`),
	regexp.MustCompile(`\.aws/credentials`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\.pem$`),
}

var exfilPipeTargets = regexp.MustCompile(`(?i)\|\s*(curl|wget)\b`)

// ValidationError reports why validateToolOutput rejected a call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidateToolOutput inspects a proposed tool invocation's arguments
// before execution.
func ValidateToolOutput(toolName string, args map[string]any) error {
	if cmd, ok := stringArg(args, "command"); ok {
		if exfilPipeTargets.MatchString(cmd) {
			return &ValidationError{Reason: "command pipes output to curl/wget, a common exfiltration pattern"}
		}
		for _, crit := range criticalConfigPaths {
			if strings.Contains(cmd, crit) {
				return &ValidationError{Reason: fmt.Sprintf("command modifies critical config path %q", crit)}
			}
		}
	}

	for _, key := range []string{"path", "file_path", "filePath"} {
		if path, ok := stringArg(args, key); ok {
			for _, crit := range criticalConfigPaths {
				if strings.Contains(path, crit) && isWriteLikeTool(toolName) {
					return &ValidationError{Reason: fmt.Sprintf("tool attempts to write critical config path %q", crit)}
				}
			}
			for _, pat := range sensitivePathPatterns {
				if pat.MatchString(path) {
					return &ValidationError{Reason: fmt.Sprintf("path %q matches a sensitive credential pattern", path)}
				}
			}
		}
	}

	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, pat := range injectionPatterns {
			if pat.MatchString(s) {
				return &ValidationError{Reason: "argument contains an encoded or literal injection pattern"}
			}
		}
	}

	return nil
}

func isWriteLikeTool(name string) bool {
	switch name {
	case "write", "edit", "bash", "shell":
		return true
	default:
		return false
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
