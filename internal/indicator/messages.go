package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeSpanish locale = "es"
)

type messages struct {
	recording string
	finishing string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "es") {
		return localeSpanish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeSpanish:
		return messages{
			recording: "Grabando…",
			finishing: "Finalizando transcripción…",
			errorText: "Error de transcripción",
		}
	default:
		return messages{
			recording: "Recording…",
			finishing: "Finishing transcript…",
			errorText: "Transcription error",
		}
	}
}
