package threads

import "strings"

// NormalizeHandle reduces an account identifier to a bare handle: leading
// "@" dropped, email domain dropped, lowercased. "@Shop.User" and
// "shop.user@gmail.com" both become "shop.user".
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// IdentityMatches reports whether the username shown in the browser belongs
// to the configured account. Empty expectation matches anything: the user
// chose not to pin an account.
func IdentityMatches(expected, actual string) bool {
	if strings.TrimSpace(expected) == "" {
		return true
	}
	return NormalizeHandle(expected) == NormalizeHandle(actual)
}

// maxAffordanceLabel is the cutoff above which a clickable element is treated
// as a layout container rather than a button.
const maxAffordanceLabel = 100

var addLabelWanted = []string{"add to thread", "add more", "스레드에 추가", "내용을 더 추가"}

var addLabelExcluded = []string{"post", "create", "cancel", "close", "게시", "만들기", "취소", "닫기"}

// AcceptAddAffordance decides whether a clickable element with the given
// visible text is the composer's add-paragraph control. strict requires a
// positive label match; loose mode only rejects known-wrong labels, for
// selectors that already target the control precisely.
func AcceptAddAffordance(label string, strict bool) bool {
	label = strings.TrimSpace(label)
	if len(label) > maxAffordanceLabel {
		return false
	}
	lower := strings.ToLower(label)
	for _, w := range addLabelWanted {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, e := range addLabelExcluded {
		if strings.Contains(lower, e) {
			return false
		}
	}
	return !strict
}

// UsernameFromProfileURL extracts the handle from a profile URL such as
// "https://www.threads.net/@shop.user?hl=en". Empty when the URL is not a
// profile page.
func UsernameFromProfileURL(url string) string {
	_, after, found := strings.Cut(url, "/@")
	if !found {
		return ""
	}
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(after, sep); i >= 0 {
			after = after[:i]
		}
	}
	return after
}
