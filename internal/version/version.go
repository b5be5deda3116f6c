package version

// Version is the gateway release, overridable at build time with
// -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "0.1.0"
