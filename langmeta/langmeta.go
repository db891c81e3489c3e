// Package langmeta maps BCP 47 language tags to display names used in
// translation prompts and CLI output.
package langmeta

import "strings"

// Meta describes language display metadata.
type Meta struct {
	// Name is the English name, as given to translation models.
	Name string
	// Native is the name in the language itself.
	Native string
}

// Registry contains canonical language metadata.
// Locale variants are resolved in Resolve() via normalization and base fallback.
var Registry = map[string]Meta{
	"ar":    {Name: "Arabic", Native: "العربية"},
	"bg":    {Name: "Bulgarian", Native: "Български"},
	"ca":    {Name: "Catalan", Native: "Català"},
	"cs":    {Name: "Czech", Native: "Čeština"},
	"da":    {Name: "Danish", Native: "Dansk"},
	"de":    {Name: "German", Native: "Deutsch"},
	"de-AT": {Name: "German (Austria)", Native: "Deutsch (Österreich)"},
	"de-CH": {Name: "German (Switzerland)", Native: "Deutsch (Schweiz)"},
	"de-DE": {Name: "German (Germany)", Native: "Deutsch (Deutschland)"},
	"el":    {Name: "Greek", Native: "Ελληνικά"},
	"en":    {Name: "English", Native: "English"},
	"en-GB": {Name: "English (UK)", Native: "English (UK)"},
	"en-US": {Name: "English (US)", Native: "English (US)"},
	"es":    {Name: "Spanish", Native: "Español"},
	"es-ES": {Name: "Spanish (Spain)", Native: "Español (España)"},
	"es-MX": {Name: "Spanish (Mexico)", Native: "Español (México)"},
	"fa":    {Name: "Persian", Native: "فارسی"},
	"fi":    {Name: "Finnish", Native: "Suomi"},
	"fr":    {Name: "French", Native: "Français"},
	"fr-CA": {Name: "French (Canada)", Native: "Français (Canada)"},
	"fr-FR": {Name: "French (France)", Native: "Français (France)"},
	"he":    {Name: "Hebrew", Native: "עברית"},
	"hi":    {Name: "Hindi", Native: "हिन्दी"},
	"hu":    {Name: "Hungarian", Native: "Magyar"},
	"id":    {Name: "Indonesian", Native: "Bahasa Indonesia"},
	"it":    {Name: "Italian", Native: "Italiano"},
	"it-IT": {Name: "Italian (Italy)", Native: "Italiano (Italia)"},
	"ja":    {Name: "Japanese", Native: "日本語"},
	"ja-JP": {Name: "Japanese (Japan)", Native: "日本語 (日本)"},
	"ko":    {Name: "Korean", Native: "한국어"},
	"ko-KR": {Name: "Korean (Korea)", Native: "한국어 (대한민국)"},
	"nb":    {Name: "Norwegian Bokmål", Native: "Norsk bokmål"},
	"nl":    {Name: "Dutch", Native: "Nederlands"},
	"pl":    {Name: "Polish", Native: "Polski"},
	"pt":    {Name: "Portuguese", Native: "Português"},
	"pt-BR": {Name: "Portuguese (Brazil)", Native: "Português (Brasil)"},
	"pt-PT": {Name: "Portuguese (Portugal)", Native: "Português (Portugal)"},
	"ro":    {Name: "Romanian", Native: "Română"},
	"ru":    {Name: "Russian", Native: "Русский"},
	"sk":    {Name: "Slovak", Native: "Slovenčina"},
	"sv":    {Name: "Swedish", Native: "Svenska"},
	"th":    {Name: "Thai", Native: "ไทย"},
	"tr":    {Name: "Turkish", Native: "Türkçe"},
	"uk":    {Name: "Ukrainian", Native: "Українська"},
	"vi":    {Name: "Vietnamese", Native: "Tiếng Việt"},
	"zh":    {Name: "Chinese", Native: "中文"},
	"zh-CN": {Name: "Chinese (Simplified)", Native: "简体中文"},
	"zh-TW": {Name: "Chinese (Traditional)", Native: "繁體中文"},
}

// Canonicalize normalizes a tag to the "ll-RR" form: "pt_br" becomes "pt-BR".
func Canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 && len(parts[1]) == 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like pt_BR, pt-BR, and base-language fallbacks.
// Unknown tags resolve to themselves.
func Resolve(lang string) Meta {
	if m, ok := Registry[lang]; ok {
		return m
	}
	normalized := Canonicalize(lang)
	if m, ok := Registry[normalized]; ok {
		return m
	}
	if base, _, found := strings.Cut(normalized, "-"); found {
		if m, ok := Registry[base]; ok {
			return m
		}
	}
	return Meta{Name: lang, Native: lang}
}
