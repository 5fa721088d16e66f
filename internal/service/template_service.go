// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_]+)\}`)

// RenderTemplate substitutes {key} placeholders case-insensitively. Unknown
// placeholders are left untouched; known keys with empty values render empty.
func RenderTemplate(template string, data map[string]string) string {
	lowered := make(map[string]string, len(data))
	for k, v := range data {
		lowered[strings.ToLower(k)] = v
	}
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := strings.ToLower(m[1 : len(m)-1])
		if v, ok := lowered[key]; ok {
			return v
		}
		return m
	})
	return strings.TrimSpace(out)
}

func ProspectPlaceholders(p *model.Prospect) map[string]string {
	return map[string]string{
		"first_name":   strings.TrimSpace(p.FirstName),
		"last_name":    strings.TrimSpace(p.LastName),
		"company":      strings.TrimSpace(p.Company),
		"company_name": strings.TrimSpace(p.Company),
		"title":        strings.TrimSpace(p.Title),
	}
}

func RenderForProspect(template string, p *model.Prospect) string {
	return RenderTemplate(template, ProspectPlaceholders(p))
}
