package utils

import "fmt"

// Minimal server and device side i18n for fixed keys.
// Questionnaire wording lives with the questions in the store.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":      "ok",
		"reminder.title": "FlashTrack Check-in",
		"reminder.body":  "Time for your %s check-in",
	},
	"zh": {
		"health.ok":      "好的",
		"reminder.title": "FlashTrack 打卡",
		"reminder.body":  "该进行%s打卡了",
	},
}

// SupportedLocales lists the locales with a translation table.
var SupportedLocales = []string{"en", "zh"}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf formats the translated string for key with args.
func Tf(locale, key string, args ...any) string {
	return fmt.Sprintf(T(locale, key), args...)
}
