package httpx

// StatusOriginTimeout is the Cloudflare "A Timeout Occurred" status the
// chat service fronts its long-poll endpoints with. It means the poll
// window elapsed, not that anything failed.
const StatusOriginTimeout = 524

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
