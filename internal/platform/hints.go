package platform

const defaultHint = "Paste your video link here (YouTube, TikTok, Instagram...)"

var hints = map[Platform]string{
	TikTok:    "Paste your TikTok video link here",
	Instagram: "Paste your Instagram video link here",
	Facebook:  "Paste your Facebook video link here",
	YouTube:   "Paste your YouTube video link here",
	Twitter:   "Paste your X (Twitter) video link here",
}

// Hint returns the input hint a presentation layer shows for p.
func Hint(p Platform) string {
	if h, ok := hints[p]; ok {
		return h
	}
	return defaultHint
}
