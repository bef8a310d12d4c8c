/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package libinfo reports the version of go-ratekit the binary is built with.
package libinfo

import (
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const libShortName = "go-ratekit"

const moduleName = "github.com/acronis/" + libShortName

// PrometheusLibVersionLabel is a name of the constant label with the library version.
const PrometheusLibVersionLabel = "go_ratekit_version"

const develVersion = "v0.0.0"

// AddPrometheusLibVersionLabel returns a copy of labels with the library version added.
func AddPrometheusLibVersionLabel(labels prometheus.Labels) prometheus.Labels {
	labelsCopy := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		labelsCopy[k] = v
	}
	labelsCopy[PrometheusLibVersionLabel] = GetLibVersion()
	return labelsCopy
}

// UserAgent returns a value for the User-Agent header of outgoing requests, e.g. "go-ratekit/v1.2.0".
func UserAgent() string {
	return libShortName + "/" + GetLibVersion()
}

var libVersion string
var libVersionOnce sync.Once

// GetLibVersion returns the module version or v0.0.0 if it's unknown (e.g. in tests or local builds).
func GetLibVersion() string {
	libVersionOnce.Do(func() {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			libVersion = extractLibVersion(buildInfo, moduleName)
		}
		if libVersion == "" {
			libVersion = develVersion
		}
	})
	return libVersion
}

// extractLibVersion looks for the module both as the main module (ratekitd binary)
// and as a dependency. Major version suffixes ("/v2") are accepted.
func extractLibVersion(buildInfo *debug.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(modName) + `(/v[0-9]+)?$`)
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
