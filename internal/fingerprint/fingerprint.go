// Package fingerprint turns raw catalog metadata into the stable digest
// the store uses to dedup tracks within a batch, and into filesystem-safe
// names for the files a download eventually produces.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// stopWords are whole-word tokens dropped during sanitization because they
// describe the upload, not the song.
var stopWords = map[string]bool{
	"feat": true, "ft": true, "official": true, "video": true,
	"audio": true, "remastered": true, "lyrics": true, "hq": true,
	"hd": true,
}

var (
	parenPattern      = regexp.MustCompile(`\([^)]*\)`)
	bracketPattern    = regexp.MustCompile(`\[[^\]]*\]`)
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	// highQualityPhrase matches the stop-list's one two-word entry as a
	// phrase, not as "high" and "quality" stripped independently —
	// otherwise a title like "So High" loses a word that isn't describing
	// the upload at all.
	highQualityPhrase = regexp.MustCompile(`\bhigh\s+quality\b`)
)

// Sanitize lowercases text, strips bracketed qualifiers and punctuation,
// drops stop-list tokens, and collapses whitespace. It is idempotent:
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	s := norm.NFC.String(text)
	s = strings.ToLower(s)
	s = parenPattern.ReplaceAllString(s, " ")
	s = bracketPattern.ReplaceAllString(s, " ")
	s = nonAlnumPattern.ReplaceAllString(s, " ")
	s = highQualityPhrase.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	kept := make([]string, 0, len(fields))
	for _, word := range fields {
		if stopWords[word] {
			continue
		}
		kept = append(kept, word)
	}
	s = strings.Join(kept, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint returns the SHA-256 hex digest of the sanitized
// title/artist pair, plus a 5-second-bucketed duration when present.
// Deterministic across processes: identical inputs always hash identically.
func Fingerprint(title, artist string, durationSeconds *int) string {
	parts := []string{Sanitize(title), Sanitize(artist)}
	if durationSeconds != nil {
		bucket := (*durationSeconds / 5) * 5
		parts = append(parts, strconv.Itoa(bucket))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

var filenameSafePattern = regexp.MustCompile(`[^A-Za-z0-9 _-]`)

// SanitizeFilename keeps [A-Za-z0-9 _-], trims, and truncates to 80
// characters, matching the external HTTP facade's filename contract.
func SanitizeFilename(s string) string {
	s = norm.NFC.String(s)
	s = filenameSafePattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		s = strings.TrimSpace(s[:80])
	}
	return s
}
