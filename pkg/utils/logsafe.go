package utils

const errTextCap = 300

// TruncateError caps error text for logging. Anything beyond 300 characters
// is cut with a trailing marker so huge upstream bodies never reach the log.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= errTextCap {
		return msg
	}
	return msg[:errTextCap] + "…(truncated)"
}
