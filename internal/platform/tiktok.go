package platform

import "strings"

// TikTok caption limit.
const tiktokMaxCaption = 150

// TikTok shapes payloads for TikTok uploads. The caption is the title
// followed by as many hashtags as fit within the limit.
type TikTok struct{}

func (TikTok) Name() string        { return "tiktok" }
func (TikTok) StableTagCount() int { return 3 }

func (TikTok) Shape(in Input) Output {
	var b strings.Builder
	b.WriteString(truncate(in.ProductName, tiktokMaxCaption))

	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		h := hashtag(t)
		if h == "" {
			continue
		}
		if b.Len()+1+len(h) > tiktokMaxCaption {
			break
		}
		b.WriteString(" ")
		b.WriteString(h)
		tags = append(tags, t)
	}
	caption := b.String()

	return Output{
		Title:       caption,
		Description: caption,
		Tags:        tags,
		Config:      baseConfig(in.Config),
	}
}
