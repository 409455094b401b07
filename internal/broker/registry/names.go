package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// adjectives and nouns are kept short (≤6 bytes) so that "adjective-noun"
// plus an optional collision digit never exceeds the 15-byte name bound.
var adjectives = []string{
	"quick", "bold", "bright", "smart", "clear", "fresh", "prime", "swift",
	"noble", "grand", "vital", "keen", "calm", "sharp", "brave", "eager",
	"gentle", "sunny", "tidy", "sleek", "lively", "merry", "quiet", "spry",
	"stout", "supple", "warm", "witty", "young", "zesty", "amber", "chief",
}

var nouns = []string{
	"fox", "wolf", "hawk", "owl", "bear", "lynx", "crow", "dove",
	"otter", "heron", "finch", "moth", "eel", "lark", "seal", "puma",
	"ibis", "wren", "toad", "crab", "newt", "gull", "deer", "mole",
	"swan", "stag", "ant", "bee", "ram", "yak", "elk", "cat",
}

// generateMemorableName returns a random "adjective-noun" name, or
// "adjective-nounD" (a trailing digit 1-9) when withDigit is set — the
// registry appends the digit only after the undigited form collides.
func generateMemorableName(withDigit bool) string {
	adj := adjectives[randIndex(len(adjectives))]
	noun := nouns[randIndex(len(nouns))]
	if !withDigit {
		return adj + "-" + noun
	}
	digit := randIndex(9) + 1
	return fmt.Sprintf("%s-%s%d", adj, noun, digit)
}

func randIndex(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing is effectively unrecoverable (no entropy
		// source); fall back to the first entry rather than panic the
		// caller over a name-generation cosmetic.
		return 0
	}
	return int(v.Int64())
}
