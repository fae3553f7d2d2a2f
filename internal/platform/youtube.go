package platform

// YouTube limits.
const (
	youtubeMaxTitle       = 100
	youtubeMaxDescription = 5000
	youtubeMaxTags        = 30
	youtubeMaxTagChars    = 500
)

// YouTube shapes payloads for YouTube uploads.
type YouTube struct{}

func (YouTube) Name() string        { return "youtube" }
func (YouTube) StableTagCount() int { return 2 }

func (YouTube) Shape(in Input) Output {
	tags := make([]string, 0, len(in.Tags))
	total := 0
	for _, t := range in.Tags {
		if len(tags) >= youtubeMaxTags {
			break
		}
		if total+len(t) > youtubeMaxTagChars {
			break
		}
		tags = append(tags, t)
		total += len(t)
	}

	cfg := baseConfig(in.Config)
	if _, ok := cfg["made_for_kids"]; !ok {
		cfg["made_for_kids"] = false
	}

	return Output{
		Title:       truncate(in.ProductName, youtubeMaxTitle),
		Description: truncate(pickDescription(in), youtubeMaxDescription),
		Tags:        tags,
		Config:      cfg,
	}
}
