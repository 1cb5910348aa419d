// Package fingerprint turns article content into an exact content hash and a
// 64-bit simhash split into four 16-bit LSH bands.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	BandCount = 4
	BandWidth = 16
	bandMask  = 1<<BandWidth - 1
)

var ErrEmptyContent = errors.New("content is empty after normalization")

// Fingerprint is the full set of values written back to a curation record.
type Fingerprint struct {
	ContentHash string
	Simhash     uint64
	Bands       [BandCount]uint16
}

// Compute fingerprints content. Whitespace-only content yields ErrEmptyContent
// and the caller leaves the record pending.
func Compute(content string) (Fingerprint, error) {
	normalized := Normalize(content)
	if normalized == "" {
		return Fingerprint{}, ErrEmptyContent
	}

	sum := sha256.Sum256([]byte(normalized))
	hash := Simhash(Tokenize(normalized))

	return Fingerprint{
		ContentHash: hex.EncodeToString(sum[:]),
		Simhash:     hash,
		Bands:       SplitBands(hash),
	}, nil
}

// Normalize applies NFKC (folds full-width forms), lowercases, drops control
// characters and collapses whitespace runs to one space.
func Normalize(input string) string {
	folded := strings.ToLower(norm.NFKC.String(input))
	trimmed := strings.TrimSpace(folded)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into features. Latin-script runs become
// words; CJK runs have no word boundaries, so they become overlapping
// character bigrams.
func Tokenize(normalized string) []string {
	var (
		tokens []string
		word   []rune
		cjk    []rune
	)

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			tokens = append(tokens, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range normalized {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// Simhash accumulates a signed weight per bit over distinct tokens, each
// weighted by its frequency, and sets the bits whose weight ends positive.
func Simhash(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	freq := make(map[string]int, len(tokens))
	for _, token := range tokens {
		freq[token]++
	}

	var weights [64]int
	for token, count := range freq {
		h := hashToken64(token)
		for bit := 0; bit < 64; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				weights[bit] += count
			} else {
				weights[bit] -= count
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result
}

// SplitBands slices hash into four contiguous 16-bit bands, most significant
// first.
func SplitBands(hash uint64) [BandCount]uint16 {
	var bands [BandCount]uint16
	for i := 0; i < BandCount; i++ {
		shift := uint(BandWidth * (BandCount - 1 - i))
		bands[i] = uint16((hash >> shift) & bandMask)
	}
	return bands
}

// JoinBands is the inverse of SplitBands.
func JoinBands(bands [BandCount]uint16) uint64 {
	var hash uint64
	for i := 0; i < BandCount; i++ {
		hash = hash<<BandWidth | uint64(bands[i])
	}
	return hash
}

func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// SharedBands counts the band positions at which a and b agree.
func SharedBands(a, b uint64) int {
	left := SplitBands(a)
	right := SplitBands(b)
	shared := 0
	for i := range left {
		if left[i] == right[i] {
			shared++
		}
	}
	return shared
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
