package utils

import (
	"sort"
	"strconv"
	"strings"
)

// DetermineLocale resolves a locale to use based on explicit query param, Accept-Language header,
// supported locales, and a default fallback. Supported values should be normalized like "en", "zh".
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	if v, ok := pickLocale(queryLang, supported); ok {
		return v
	}

	// Accept-Language with q-values, e.g. "en-US,en;q=0.9,zh;q=0.8"
	type cand struct {
		lang string
		q    float64
	}
	var cands []cand
	for _, part := range strings.Split(acceptLang, ",") {
		lang, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = f
			}
		}
		if l, ok := pickLocale(lang, supported); ok && q > 0 {
			cands = append(cands, cand{lang: l, q: q})
		}
	}
	if len(cands) > 0 {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })
		return cands[0].lang
	}
	if v, ok := pickLocale(def, supported); ok {
		return v
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}

// LocaleFromPOSIX maps a LANG style value such as "zh_CN.UTF-8" onto a supported locale.
func LocaleFromPOSIX(lang string, supported []string, def string) string {
	lang, _, _ = strings.Cut(lang, ".")
	lang = strings.ReplaceAll(lang, "_", "-")
	return DetermineLocale(lang, "", supported, def)
}

// pickLocale prefers an exact match, then the base language (en-US -> en).
func pickLocale(lang string, supported []string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(lang))
	if l == "" {
		return "", false
	}
	base, _, _ := strings.Cut(l, "-")
	for _, s := range supported {
		if strings.ToLower(s) == l {
			return l, true
		}
	}
	for _, s := range supported {
		if strings.ToLower(s) == base {
			return base, true
		}
	}
	return "", false
}
