// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// RenderTemplate substitutes {{attribute}} placeholders with values from
// data. Identifiers are letters, digits and underscores; lookup is
// case-sensitive. A placeholder with no matching attribute renders to an
// empty string, and malformed placeholders (unterminated "{{", empty or
// illegal identifier) are left verbatim. The scan is single-pass, so
// substituted values are never re-expanded. Pure function, safe to call
// concurrently.
func RenderTemplate(template string, data map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.Index(template[i:], "{{")
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])

		j := open + 2
		for j < len(template) && isIdentChar(template[j]) {
			j++
		}
		if j > open+2 && j+1 < len(template) && template[j] == '}' && template[j+1] == '}' {
			b.WriteString(data[template[open+2:j]])
			i = j + 2
			continue
		}

		// Malformed placeholder: keep the braces and rescan after them.
		b.WriteString("{{")
		i = open + 2
	}
	return b.String()
}

// RenderMessage renders a template's subject and body for one recipient.
func RenderMessage(tpl model.Template, r model.Recipient) (subject, body string) {
	return RenderTemplate(tpl.Subject, r), RenderTemplate(tpl.Body, r)
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}
