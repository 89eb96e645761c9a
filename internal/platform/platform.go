// Package platform maps media URLs to the platform they belong to.
// Detection is advisory and never gates the job pipeline.
package platform

import (
	"fmt"
	"strings"
)

// Platform is a media platform tag.
type Platform string

const (
	Auto      Platform = "auto"
	TikTok    Platform = "tiktok"
	Instagram Platform = "instagram"
	Facebook  Platform = "facebook"
	YouTube   Platform = "youtube"
	Twitter   Platform = "twitter"
)

type rule struct {
	platform Platform
	hosts    []string
}

// rules are checked in order; the first rule with a matching host wins.
var rules = []rule{
	{TikTok, []string{"tiktok.com"}},
	{Instagram, []string{"instagram.com"}},
	{Facebook, []string{"facebook.com"}},
	{YouTube, []string{"youtube.com", "youtu.be"}},
	{Twitter, []string{"twitter.com", "x.com"}},
}

// Detect returns the platform whose hostname appears in rawURL, or Auto.
func Detect(rawURL string) Platform {
	s := strings.ToLower(rawURL)
	for _, r := range rules {
		for _, h := range r.hosts {
			if strings.Contains(s, h) {
				return r.platform
			}
		}
	}
	return Auto
}

// All returns every concrete platform in display order.
func All() []Platform {
	out := make([]Platform, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.platform)
	}
	return out
}

// Parse validates an explicit platform choice.
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p == "" || p == Auto {
		return Auto, nil
	}
	for _, r := range rules {
		if r.platform == p {
			return p, nil
		}
	}
	return Auto, fmt.Errorf("unknown platform: %s", s)
}

func (p Platform) String() string {
	return string(p)
}
