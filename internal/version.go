package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of livechat.
const Version = "0.3.0"

// VersionString is what `livechat version` prints.
func VersionString() string {
	return fmt.Sprintf("livechat %s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
