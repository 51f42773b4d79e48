// Package i18n provides the localized strings the conversation core surfaces to users.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. Each key doubles as the English format string.
const (
	KeyNetworkUnreachable  = "Unable to reach the assistant. Please check your connection and try again."
	KeyServerError         = "The assistant returned an error (%d): %s"
	KeyServerErrorNoDetail = "The assistant returned an error (%d)."
	KeyUnexpected          = "Something went wrong. Please try again."
	KeyDefaultTitle        = "New conversation"
	KeyMicError            = "Mic error"
	KeyTranscriptionFailed = "Transcription failed"
	KeySpeechFailed        = "Speech failed"
	KeyNoSpeech            = "No speech detected"
	KeyListening           = "Listening..."
	KeyTranscribing        = "Transcribing..."
	KeyThinking            = "Thinking..."
	KeySpeaking            = "Speaking..."
)

var supported = []language.Tag{
	language.English, // first entry is the matcher fallback
	language.Turkish,
}

var turkish = map[string]string{
	KeyNetworkUnreachable:  "Asistana ulaşılamıyor. Lütfen bağlantınızı kontrol edip tekrar deneyin.",
	KeyServerError:         "Asistan bir hata döndürdü (%d): %s",
	KeyServerErrorNoDetail: "Asistan bir hata döndürdü (%d).",
	KeyUnexpected:          "Bir şeyler ters gitti. Lütfen tekrar deneyin.",
	KeyDefaultTitle:        "Yeni sohbet",
	KeyMicError:            "Mikrofon hatası",
	KeyTranscriptionFailed: "Metne çevirme başarısız",
	KeySpeechFailed:        "Seslendirme başarısız",
	KeyNoSpeech:            "Konuşma algılanmadı",
	KeyListening:           "Dinleniyor...",
	KeyTranscribing:        "Metne çevriliyor...",
	KeyThinking:            "Düşünüyor...",
	KeySpeaking:            "Konuşuyor...",
}

// Localizer formats user-facing messages for one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(supported)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{
		KeyNetworkUnreachable, KeyServerError, KeyServerErrorNoDetail, KeyUnexpected,
		KeyDefaultTitle, KeyMicError, KeyTranscriptionFailed, KeySpeechFailed,
		KeyNoSpeech, KeyListening, KeyTranscribing, KeyThinking, KeySpeaking,
	} {
		_ = b.SetString(language.English, key, key)
		if tr, ok := turkish[key]; ok {
			_ = b.SetString(language.Turkish, key, tr)
		}
	}
	return b
}

// New returns a Localizer for the closest supported match of lang.
// Unknown or malformed values fall back to English.
func New(lang string) *Localizer {
	tag := Match(lang)
	return &Localizer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
	}
}

// Match resolves a BCP 47 string or Accept-Language header to a supported tag.
func Match(lang string) language.Tag {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return supported[0]
	}
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return supported[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Normalize returns the base language code ("en", "tr") for lang.
func Normalize(lang string) string {
	base, _ := Match(lang).Base()
	return base.String()
}

// Supported lists the base codes of every supported language.
func Supported() []string {
	out := make([]string, 0, len(supported))
	for _, t := range supported {
		base, _ := t.Base()
		out = append(out, base.String())
	}
	return out
}

// Language returns the base code this Localizer renders.
func (l *Localizer) Language() string {
	base, _ := l.tag.Base()
	return base.String()
}

// Sprintf formats key with args in the Localizer's language.
func (l *Localizer) Sprintf(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Text returns the translation of a key with no arguments.
func (l *Localizer) Text(key string) string {
	return l.printer.Sprintf(key)
}
