package pipeline

import "strings"

// Caption puts the image name between the configured prefix and suffix.
func Caption(prefix, name, suffix string) string {
	return prefix + name + suffix
}

// SplitCaption undoes Caption by cutting at the first occurrence of name.
// ok is false when name does not occur. The split is ambiguous when the
// prefix itself contains name: "Grid 7 of 9: #" + "7" splits as "Grid " and
// " of 9: #7". Round trips hold only for prefixes that do not contain name.
func SplitCaption(caption, name string) (prefix, suffix string, ok bool) {
	if name == "" {
		return "", "", false
	}
	return strings.Cut(caption, name)
}
