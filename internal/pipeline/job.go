package pipeline

import (
	"cmp"
	"slices"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

// Job is the synthesis of one chunk of one script line.
type Job struct {
	SessionID string
	Line      int
	Chunk     int
	Speaker   string
	Text      string
	Voice     string
	Language  string
}

// Fragment is a synthesized Job persisted at Path.
type Fragment struct {
	Line  int
	Chunk int
	Path  string
}

// Plan expands lines into jobs in narration order. Lines whose text is
// blank contribute no jobs.
func Plan(sessionID string, lines []script.Line, speakers []script.Speaker, maxChars int) []Job {
	var jobs []Job
	for i, line := range lines {
		speaker, _ := script.ResolveSpeaker(line, i, speakers)
		for j, text := range script.Split(line.Text, maxChars) {
			jobs = append(jobs, Job{
				SessionID: sessionID,
				Line:      i,
				Chunk:     j,
				Speaker:   speaker.Name,
				Text:      text,
				Voice:     speaker.Voice,
				Language:  speaker.Language,
			})
		}
	}
	return jobs
}

// Order sorts fragments by (line, chunk), the narration order.
func Order(fragments []Fragment) []string {
	sorted := slices.Clone(fragments)
	slices.SortFunc(sorted, func(a, b Fragment) int {
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk, b.Chunk)
	})
	paths := make([]string, len(sorted))
	for i, f := range sorted {
		paths[i] = f.Path
	}
	return paths
}
