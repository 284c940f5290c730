package session

import (
	"fmt"
	"strings"
)

// ValidLangs is the closed set of language codes a session accepts.
var ValidLangs = map[string]bool{
	"en": true,
	"vi": true,
	"zh": true,
}

var langNames = map[string]string{
	"en": "English",
	"vi": "Vietnamese",
	"zh": "Chinese (Traditional if possible)",
}

func langName(code string) string {
	if n, ok := langNames[code]; ok {
		return n
	}
	return code
}

func orNone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(none)"
	}
	return s
}

// translateSegmentPrompt builds the realtime per-segment prompt. The topic
// memory tail and the running summary anchor terminology across segments.
func translateSegmentPrompt(srcLang, tgtLang, contextTail, summary, segment string) string {
	srcName := langName(srcLang)
	tgtName := langName(tgtLang)
	return fmt.Sprintf(`You are a professional real-time translator.

RULES:
- Translate from %s to %s.
- Output ONLY the translated text. No explanation.
- Keep technical terms consistent with the topic memory and summary.
- Preserve numbers, names, abbreviations, and units exactly.
- If %s is Vietnamese, use natural Vietnamese.
- If %s is Chinese, prefer Traditional Chinese if possible.

TOPIC MEMORY (recent tail, bilingual):
%s

RUNNING SUMMARY (updated periodically):
%s

NEW SEGMENT (translate this):
%s
`, srcName, tgtName, tgtName, tgtName, orNone(contextTail), orNone(summary), strings.TrimSpace(segment))
}

// finalTranslatePrompt builds the stop-time reconciliation prompt that
// re-translates the full source for coherence.
func finalTranslatePrompt(srcLang, tgtLang, contextTail, summary, fullSource string) string {
	srcName := langName(srcLang)
	tgtName := langName(tgtLang)
	return fmt.Sprintf(`You are a professional translator.

TASK:
- Translate the FULL TEXT from %s to %s.
- Output ONLY the final translated text (no commentary).
- Make it coherent, fluent, and consistent.
- Keep technical terminology consistent with the topic memory and the summary.
- Preserve line breaks as much as possible.

TOPIC MEMORY (recent tail, bilingual):
%s

RUNNING SUMMARY:
%s

FULL TEXT:
%s
`, srcName, tgtName, orNone(contextTail), orNone(summary), strings.TrimSpace(fullSource))
}

// summaryPrompt builds the periodic rolling-summary prompt.
func summaryPrompt(srcLang, fullSource string) string {
	return fmt.Sprintf(`You are a concise summarizer.

INPUT LANGUAGE: %s

Summarize the text in 3-6 bullet points.
Keep key entities, names, numbers, and domain terms.
Be short and information-dense.

TEXT:
%s
`, langName(srcLang), strings.TrimSpace(fullSource))
}
