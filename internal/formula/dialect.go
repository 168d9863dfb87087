package formula

import (
	"regexp"
	"strings"
)

const (
	failFunc  = "fail"
	errorFunc = "Error"
)

var (
	mathPrefix  = regexp.MustCompile(`\bMath\.`)
	newKeyword  = regexp.MustCompile(`\bnew\s+`)
	returnStmt  = regexp.MustCompile(`^return\b\s*`)
	throwStmt   = regexp.MustCompile(`^throw\b\s*`)
	bindingStmt = regexp.MustCompile(`^(const|var|let)\s+`)
)

// Normalize rewrites the statement forms editors commonly send into a single
// expr program:
//
//	return sin(t * 440 * 2 * Math.PI);   ->  sin(t * 440 * 2 * PI)
//	const f = 220; return sin(t * f);    ->  let f = 220; sin(t * f)
//	throw new Error("x")                 ->  fail(Error("x"))
//
// Plain expr input passes through unchanged.
func Normalize(source string) string {
	stmts := splitStatements(source)
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		switch {
		case returnStmt.MatchString(s):
			s = returnStmt.ReplaceAllString(s, "")
		case throwStmt.MatchString(s):
			s = failFunc + "(" + throwStmt.ReplaceAllString(s, "") + ")"
		case bindingStmt.MatchString(s):
			s = bindingStmt.ReplaceAllString(s, "let ")
		}
		out = append(out, s)
	}
	return rewriteCode(strings.Join(out, "; "), func(code string) string {
		code = mathPrefix.ReplaceAllString(code, "")
		return newKeyword.ReplaceAllString(code, "")
	})
}

// segment is a run of source that is either entirely inside a string literal
// (quotes included) or entirely outside one.
type segment struct {
	text   string
	quoted bool
}

func segments(source string) []segment {
	var (
		segs  []segment
		cur   strings.Builder
		quote rune
		esc   bool
	)
	flush := func(quoted bool) {
		if cur.Len() > 0 {
			segs = append(segs, segment{text: cur.String(), quoted: quoted})
			cur.Reset()
		}
	}
	for _, r := range source {
		switch {
		case esc:
			esc = false
		case quote != 0 && r == '\\':
			esc = true
		case quote != 0 && r == quote:
			cur.WriteRune(r)
			quote = 0
			flush(true)
			continue
		case quote == 0 && (r == '"' || r == '\'' || r == '`'):
			flush(false)
			quote = r
		}
		cur.WriteRune(r)
	}
	flush(quote != 0)
	return segs
}

// splitStatements splits on semicolons that are not inside string literals.
func splitStatements(source string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, seg := range segments(source) {
		if seg.quoted {
			cur.WriteString(seg.text)
			continue
		}
		parts := strings.Split(seg.text, ";")
		cur.WriteString(parts[0])
		for _, p := range parts[1:] {
			stmts = append(stmts, cur.String())
			cur.Reset()
			cur.WriteString(p)
		}
	}
	return append(stmts, cur.String())
}

// rewriteCode applies fn to the parts of source outside string literals.
func rewriteCode(source string, fn func(string) string) string {
	var b strings.Builder
	for _, seg := range segments(source) {
		if seg.quoted {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(fn(seg.text))
	}
	return b.String()
}
