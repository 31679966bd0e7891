// ABOUTME: Version and product identification
// ABOUTME: Overridable at build time with -ldflags "-X"
package version

var (
	// Version is the release version
	Version = "0.3.0"
	// Product is sent as the User-Agent to streaming servers
	Product = "sendspin-caster"
	// Manufacturer appears in mDNS TXT records
	Manufacturer = "Sendspin"
)

// UserAgent returns "product/version"
func UserAgent() string {
	return Product + "/" + Version
}
