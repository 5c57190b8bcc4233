// Package version exports the tcpmeter build version.
package version

// Version is the tcpmeter version. It is set at build time with:
//
//	-ldflags "-X github.com/netmeasure/tcpmeter/pkg/version.Version=$(git describe --tags)"
var Version = "v0.0.0-dev"
