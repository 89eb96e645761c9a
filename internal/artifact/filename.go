package artifact

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxBaseRunes = 120

// FileName builds a safe local file name from a title, falling back to the
// last segment of urlPath and then to jobID. The extension of urlPath is
// kept so the saved file opens with the right player.
func FileName(title, jobID, urlPath string) string {
	stem, ext := nameParts(title, jobID, urlPath)
	return stem + ext
}

func nameParts(title, jobID, urlPath string) (stem, ext string) {
	ext = strings.ToLower(path.Ext(urlPath))
	if len(ext) > 8 || strings.ContainsAny(ext, " /\\") {
		ext = ""
	}

	base := clean(title)
	if base == "" {
		if seg := path.Base(urlPath); seg != "/" && seg != "." {
			base = clean(strings.TrimSuffix(seg, path.Ext(seg)))
		}
	}
	if base == "" {
		base = clean(jobID)
	}
	if base == "" {
		base = "download"
	}

	if n := len(base) - len(ext); ext != "" && n > 0 && strings.EqualFold(base[n:], ext) {
		return base[:n], base[n:]
	}
	return base, ext
}

// clean normalizes s to NFC and replaces anything unsafe in a file name.
func clean(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))

	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == maxBaseRunes {
			break
		}
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			r = '_'
		case unicode.IsSpace(r):
			r = ' '
		}
		b.WriteRune(r)
		n++
	}

	out := strings.Trim(b.String(), " .")
	if strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", "_")
	}
	return out
}
