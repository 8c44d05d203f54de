package version

// Version is overridden at build time with -ldflags "-X chat-relay/internal/version.Version=...".
var Version = "dev"
