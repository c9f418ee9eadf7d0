package validate

import "fmt"

// Text field length limits shared by every handler that accepts them.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxCommentLength     = 2000
	MaxNameLength        = 100
	MaxBioLength         = 500
	MaxAvatarURLLength   = 2048
)

func checkLen(value string, max int, field string) string {
	if len([]rune(value)) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func Description(s string) string { return checkLen(s, MaxDescriptionLength, "description") }
func Comment(s string) string     { return checkLen(s, MaxCommentLength, "comment") }
func Name(s string) string        { return checkLen(s, MaxNameLength, "name") }
func Bio(s string) string         { return checkLen(s, MaxBioLength, "bio") }
func AvatarURL(s string) string   { return checkLen(s, MaxAvatarURLLength, "avatar URL") }

// FirstError returns the first non-empty message, so handlers can check
// several fields in one call.
func FirstError(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}
