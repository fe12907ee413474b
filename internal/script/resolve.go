package script

import "strings"

// ResolveSpeaker returns the speaker whose name matches line.Speaker
// ignoring case. Unknown names fall back to speakers[index % len(speakers)]
// so a misspelled name never fails generation; matched reports which path
// was taken. speakers must not be empty.
func ResolveSpeaker(line Line, index int, speakers []Speaker) (speaker Speaker, matched bool) {
	want := strings.TrimSpace(line.Speaker)
	for _, s := range speakers {
		if strings.EqualFold(strings.TrimSpace(s.Name), want) {
			return s, true
		}
	}
	return speakers[index%len(speakers)], false
}
