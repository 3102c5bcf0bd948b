package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/util"
)

var (
	bracketResidue = regexp.MustCompile(`[\[\]()]`)
	trailingYear   = regexp.MustCompile(`\s+\d{4}$`)
	socialHandle   = regexp.MustCompile(`@\w+`)
	alnumRun       = regexp.MustCompile(`[\p{L}\p{N}]{2,}`)
	numericOnly    = regexp.MustCompile(`^\d+$`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	danglingPrefix = []string{"feat ", "feat. ", "ft ", "ft. ", "with ", "and ", "x "}
	danglingSuffix = []string{" feat", " feat.", " ft", " ft.", " with", " and", " x"}
)

// excludedNames are rejected on exact (case-insensitive) match.
var excludedNames = toSet(
	// formats
	"official", "music", "video", "audio", "lyric", "lyrics", "visualizer",
	"remix", "version", "edit", "extended", "instrumental", "acoustic",
	"explicit", "clean",
	// credits
	"directed", "produced", "shot", "filmed", "recorded", "mixed", "mastered",
	"presents", "introduces",
	// editorial
	"interview", "talks", "documentary", "behind", "scenes", "reaction",
	"review", "breakdown", "analysis", "recap",
	// outlets
	"vevo", "worldstar", "complex", "genius", "colors", "tiny desk", "sway",
	"breakfast club",
	// releases
	"album", "mixtape", "single", "track", "song", "beat", "type beat",
	"freestyle beat",
	// live
	"live", "performance", "concert", "tour", "session", "rehearsal",
	"soundcheck", "backstage",
	// entity residue
	"quot", "amp", "nbsp", "ndash", "mdash",
	// filler
	"the", "and", "or", "vs", "versus", "with", "from", "new", "latest",
	"exclusive", "premiere", "debut", "full", "complete", "entire", "whole",
	// labels and crews
	"experience", "effect", "records", "entertainment", "productions", "media",
	"group", "collective",
)

// excludedPhrases are rejected when contained anywhere in the name.
var excludedPhrases = []string{
	"music video",
	"official video",
	"lyric video",
	"live performance",
	"full album",
	"full ep",
	"directed by",
	"produced by",
	"shot by",
	"turns mashups",
	"elevator pitch",
	"mic check",
	"the cypher effect",
	"on the radar",
	"mafiathon freestyle",
	"dj set",
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// CleanCandidate validates one raw name. ok is false when the name is noise.
func CleanCandidate(raw string) (string, bool) {
	name := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	name = strings.TrimSpace(bracketResidue.ReplaceAllString(name, ""))
	name = strings.TrimSpace(trailingYear.ReplaceAllString(name, ""))
	name = strings.TrimSpace(socialHandle.ReplaceAllString(name, ""))
	name = util.CollapseSpaces(name)

	length := utf8.RuneCountInString(name)
	if length < constants.ExtractionConfig.MinNameLength || length > constants.ExtractionConfig.MaxNameLength {
		return "", false
	}

	lower := strings.ToLower(name)
	if _, excluded := excludedNames[lower]; excluded {
		return "", false
	}
	for _, phrase := range excludedPhrases {
		if strings.Contains(lower, phrase) {
			return "", false
		}
	}

	if !alnumRun.MatchString(name) {
		return "", false
	}
	if util.WordCount(name) > constants.ExtractionConfig.MaxNameWords {
		return "", false
	}
	if numericOnly.MatchString(name) {
		return "", false
	}
	for _, p := range danglingPrefix {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	for _, s := range danglingSuffix {
		if strings.HasSuffix(lower, s) {
			return "", false
		}
	}

	return name, true
}
