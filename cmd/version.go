package cmd

// Version is the caliper version, injected at build time via ldflags:
//
//	-ldflags "-X github.com/handleui/caliper/cmd.Version=v0.1.0"
var Version = "dev"
