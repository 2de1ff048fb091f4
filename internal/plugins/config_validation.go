package plugins

import "fmt"

// ValidatePluginPaths checks that every configured plugin path resolves to
// a manifest that parses and passes its own schema checks (spec §6
// "manifest format"). It's meant to run at startup against
// CortexConfig.PluginPaths, before any manifest is loaded for real.
func ValidatePluginPaths(paths []string) []string {
	var issues []string
	for _, path := range paths {
		info, err := LoadManifestForPath(path)
		if err != nil {
			issues = append(issues, fmt.Sprintf("plugin path %s: %v", path, err))
			continue
		}
		if err := info.Manifest.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("plugin path %s: invalid manifest: %v", path, err))
		}
	}
	return issues
}
