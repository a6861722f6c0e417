package recognition

import (
	"regexp"
	"strings"
)

// annotation matches environmental notes such as "(keyboard clicking)" or
// "[laughter]" that whisper inserts into transcripts.
var annotation = regexp.MustCompile(`[\(\[][a-zA-Z][a-zA-Z_\s]*[\)\]]`)

// timestamp matches a leading "[00:00:00.000 --> 00:00:05.000]" prefix.
var timestamp = regexp.MustCompile(`^\[[0-9:.\s\->]+\]\s*`)

// hallucinations are whole transcripts whisper produces from silence.
var hallucinations = map[string]struct{}{
	"...":                     {},
	"you":                     {},
	"thank you.":              {},
	"thank you":               {},
	"thanks for watching!":    {},
	"thank you for watching.": {},
	"bye.":                    {},
	"bye!":                    {},
	"the end.":                {},
}

// cleanTranscript strips whisper artifacts from a chunk transcript and
// returns "" when nothing the user said is left.
func cleanTranscript(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = timestamp.ReplaceAllString(s, "")
	s = annotation.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")

	if _, junk := hallucinations[strings.ToLower(s)]; junk {
		return ""
	}
	return s
}
