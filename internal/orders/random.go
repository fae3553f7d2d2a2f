package orders

import (
	"math/rand"

	"github.com/mediaverse/hub/internal/prodconfig"
)

// Tag subset bounds. Payloads carry between subsetMin and subsetMax
// tags when enough are configured.
const (
	subsetMin = 5
	subsetMax = 10
)

// probability of the cosmetic description mutations and of choosing a
// primary affiliate link.
const (
	trailingNewlineProb = 0.5
	trailingEmojiProb   = 0.3
	primaryPickProb     = 0.7
)

var trailingEmojis = []string{"👇", "⬇️", "🔽", "📌", "✨", "💯"}

// ShuffleTags keeps the first k tags in place, randomly permutes the
// remainder, and returns a random-size prefix of the combined list.
// The stable head defeats platform-side pattern detection without
// losing the tags that drive discovery.
func ShuffleTags(rng *rand.Rand, tags []string, k int) []string {
	if len(tags) == 0 {
		return []string{}
	}
	if k < 0 {
		k = 0
	}
	if k > len(tags) {
		k = len(tags)
	}

	out := append([]string(nil), tags...)
	tail := out[k:]
	rng.Shuffle(len(tail), func(i, j int) {
		tail[i], tail[j] = tail[j], tail[i]
	})

	lo := subsetMin
	if lo > len(out) {
		lo = len(out)
	}
	if lo < k {
		lo = k
	}
	hi := subsetMax
	if hi > len(out) {
		hi = len(out)
	}
	if hi < lo {
		hi = lo
	}

	size := lo + rng.Intn(hi-lo+1)
	return out[:size]
}

// PickAffiliate selects one affiliate link. With probability 0.7 it
// picks uniformly from the primary links when any exist; otherwise it
// falls through to the secondary links, then back to primary, then to
// the first configured link. No links yields an empty pair.
func PickAffiliate(rng *rand.Rand, urls []prodconfig.AffiliateURL) (url, label string) {
	if len(urls) == 0 {
		return "", ""
	}

	var primary, secondary []prodconfig.AffiliateURL
	for _, u := range urls {
		if u.IsPrimary {
			primary = append(primary, u)
		} else {
			secondary = append(secondary, u)
		}
	}

	if rng.Float64() < primaryPickProb && len(primary) > 0 {
		pick := primary[rng.Intn(len(primary))]
		return pick.URL, pick.Label
	}
	if len(secondary) > 0 {
		pick := secondary[rng.Intn(len(secondary))]
		return pick.URL, pick.Label
	}
	if len(primary) > 0 {
		pick := primary[rng.Intn(len(primary))]
		return pick.URL, pick.Label
	}
	return urls[0].URL, urls[0].Label
}

// VaryDescription applies cosmetic mutations: half the time a trailing
// newline, and independently a trailing emoji three times out of ten.
func VaryDescription(rng *rand.Rand, desc string) string {
	if desc == "" {
		return desc
	}
	if rng.Float64() < trailingNewlineProb {
		desc += "\n"
	}
	if rng.Float64() < trailingEmojiProb {
		desc += " " + trailingEmojis[rng.Intn(len(trailingEmojis))]
	}
	return desc
}
