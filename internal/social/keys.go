package social

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	keyDelimiter = ":"

	usersKey         = "users"
	userIDCounterKey = "userid"
	postIDCounterKey = "postid"

	maxUsernameLength = 32
)

func userKey(userID int64) string {
	return "user" + keyDelimiter + strconv.FormatInt(userID, 10)
}

func followingKey(username string) string {
	return "following" + keyDelimiter + username
}

func followersKey(username string) string {
	return "followers" + keyDelimiter + username
}

func postKey(postID int64) string {
	return "post" + keyDelimiter + strconv.FormatInt(postID, 10)
}

func timelineKey(username string) string {
	return "timeline" + keyDelimiter + username
}

// ValidateUsername trims the input and rejects names that cannot be embedded in a key.
func ValidateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxUsernameLength)
	}
	if strings.Contains(username, keyDelimiter) {
		return "", fmt.Errorf("%w: must not contain %q", ErrInvalidUsername, keyDelimiter)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: must not contain whitespace", ErrInvalidUsername)
		}
	}
	return username, nil
}
