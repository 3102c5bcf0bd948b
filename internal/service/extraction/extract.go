// Package extraction turns noisy titles into candidate artist names.
package extraction

import (
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/kapu/artist-radar/internal/util"
)

var (
	doubleQuotes = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`)
	singleQuotes = strings.NewReplacer("‘", "'", "’", "'", "‚", "'", "`", "'")

	primaryTitle = regexp.MustCompile(`^(.+?)\s+[-\x{2013}\x{2014}]\s+(.+)$`)

	artistSeparators = regexp.MustCompile(`(?i)\s+x\s+|\s+[&+]\s+|\s+and\s+|,\s*|\s+vs\.?\s+|\s+feat\.?\s+|\s+ft\.?\s+|\s+featuring\s+|\s+with\s+`)

	featuringPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\((?:feat\.?|ft\.?|featuring)\s+([^)]+)\)`),
		regexp.MustCompile(`(?i)\[(?:feat\.?|ft\.?|featuring)\s+([^\]]+)\]`),
		regexp.MustCompile(`(?i)\b(?:feat\.?|ft\.?|featuring)\s+([^(\[]+?)(?:\s*\(|\s*\[|$)`),
	}

	// Alternative title conventions, most specific first. The first pattern
	// that matches decides the primary segment.
	formatPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^([^|]+?)\s*\|\s*The\s+Cypher\s+Effect`),
		regexp.MustCompile(`(?i)^The\s+(.+?)\s+"On\s+The\s+Radar"`),
		regexp.MustCompile(`(?i)^(.+?)\s+(?:On\s+The\s+Radar|OTR)\b.*Freestyle`),
		regexp.MustCompile(`(?i)^The\s+(.+?)\s+Freestyle(?:\s|$)`),
		regexp.MustCompile(`(?i)^(.+?)\s+(?:Mafiathon\s+)?Freestyle(?:\s|$)`),
		regexp.MustCompile(`(?i)^(.+?)\s*\(?Live\s+Performance\)?`),
		regexp.MustCompile(`(?i)^(.+?)\s+Performance(?:\s|$)`),
		regexp.MustCompile(`(?i)^(.+?)\s*\|\s*.*(?:Session|Mic\s+Check)`),
		regexp.MustCompile(`^([A-Z][A-Za-z0-9$.\s&]+?)\s+(?:[Ff]eat\.|[Ff]t\.)\s+`),
	}

	collabPattern = regexp.MustCompile(`^([A-Z][A-Za-z0-9$.\s]+(?:\s+[&xX]\s+[A-Z][A-Za-z0-9$.\s]+)+)`)

	shortTitleNoise = []string{
		"official", "music", "video", "audio", "lyric", "visualizer",
		"recap", "commercial", "live", "performance",
	}
)

// NormalizeTitle keeps the first line of text with entities decoded, quotes
// unified and whitespace collapsed.
func NormalizeTitle(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = html.UnescapeString(text)
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = doubleQuotes.Replace(text)
	text = singleQuotes.Replace(text)
	return util.CollapseSpaces(text)
}

// SplitArtists splits a multi-artist credit on the usual separators.
func SplitArtists(text string) []string {
	parts := artistSeparators.Split(text, -1)
	artists := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			artists = append(artists, p)
		}
	}
	return artists
}

// ExtractCandidateNames returns the sorted, de-duplicated candidate names
// found in text. It never fails; unusable input yields an empty slice.
func ExtractCandidateNames(text string) []string {
	title := NormalizeTitle(text)
	if title == "" {
		return []string{}
	}

	found := newNameSet()

	if m := primaryTitle.FindStringSubmatch(title); m != nil {
		found.addAll(SplitArtists(m[1]))
		found.addFeaturing(m[2])
	} else {
		for _, pattern := range formatPatterns {
			m := pattern.FindStringSubmatch(title)
			if m == nil {
				continue
			}
			primary := strings.TrimSpace(m[1])
			if len(primary) > 4 && strings.EqualFold(primary[:4], "the ") {
				primary = primary[4:]
			}
			found.addAll(SplitArtists(primary))
			break
		}

		if found.empty() {
			if m := collabPattern.FindStringSubmatch(title); m != nil {
				found.addAll(SplitArtists(strings.TrimSpace(m[1])))
			}
		}
	}

	found.addFeaturing(title)

	if found.empty() && util.WordCount(title) <= 4 && !containsNoise(title) {
		found.add(title)
	}

	return found.sorted()
}

func containsNoise(title string) bool {
	lower := strings.ToLower(title)
	for _, w := range shortTitleNoise {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// nameSet de-duplicates by normalized name.
type nameSet struct {
	names map[string]string
}

func newNameSet() *nameSet {
	return &nameSet{names: make(map[string]string)}
}

func (s *nameSet) add(raw string) {
	name, ok := CleanCandidate(raw)
	if !ok {
		return
	}
	key := util.NormalizeName(name)
	// Keep the lexicographically smallest spelling so output is stable.
	if existing, ok := s.names[key]; !ok || name < existing {
		s.names[key] = name
	}
}

func (s *nameSet) addAll(raw []string) {
	for _, r := range raw {
		s.add(r)
	}
}

func (s *nameSet) addFeaturing(text string) {
	for _, pattern := range featuringPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			s.addAll(SplitArtists(m[1]))
		}
	}
}

func (s *nameSet) empty() bool {
	return len(s.names) == 0
}

func (s *nameSet) sorted() []string {
	out := make([]string, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
