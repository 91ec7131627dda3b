package version

// AgentVersion is the collector version reported in payloads and in the
// SD-Collector-Version header on every intake request.
const AgentVersion = "3.0.0"

// Build metadata, set via ldflags:
// go build -ldflags "-X github.com/serverdensity/sd-agent/internal/version.GitCommit=abc123".
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent returns the User-Agent header value used by the emitters.
func UserAgent() string {
	return "Server Density Agent/" + AgentVersion
}
