package platform

// Facebook Reels description limit.
const facebookMaxDescription = 2200

// Facebook shapes payloads for Facebook Reels.
type Facebook struct{}

func (Facebook) Name() string        { return "facebook" }
func (Facebook) StableTagCount() int { return 2 }

func (Facebook) Shape(in Input) Output {
	cfg := baseConfig(in.Config)
	if _, ok := cfg["share_to_feed"]; !ok {
		cfg["share_to_feed"] = true
	}

	return Output{
		Title:       in.ProductName,
		Description: truncate(pickDescription(in), facebookMaxDescription),
		Tags:        append([]string(nil), in.Tags...),
		Config:      cfg,
	}
}
