package script

import (
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/faults"
)

// Speaker is a voice profile supplied with a request. Name is matched
// case-insensitively.
type Speaker struct {
	Name     string `json:"name"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// Line is one utterance of the script, in narration order.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ChannelLayout is the requested output layout. Anything but "mono" mixes
// to stereo.
type ChannelLayout string

const (
	Mono   ChannelLayout = "mono"
	Stereo ChannelLayout = "stereo"
)

func (c ChannelLayout) Channels() int {
	if strings.EqualFold(strings.TrimSpace(string(c)), string(Mono)) {
		return 1
	}
	return 2
}

// Validate rejects requests the pipeline cannot turn into audio.
func Validate(lines []Line, speakers []Speaker) error {
	if len(lines) == 0 {
		return faults.Invalid("script", "must contain at least one line")
	}
	if len(speakers) == 0 {
		return faults.Invalid("speakers", "must contain at least one speaker")
	}
	for i, s := range speakers {
		if strings.TrimSpace(s.Voice) == "" {
			return faults.Invalid("speakers", "speaker %d (%q) has no voice", i, s.Name)
		}
	}
	return nil
}
